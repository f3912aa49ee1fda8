package logging

import (
	"io"
	"log"
	"os"
)

func New() *log.Logger {
	return NewWriter(os.Stdout)
}

// NewWriter is New with a caller-chosen destination, used by commands that
// keep stdout for machine-readable output.
func NewWriter(w io.Writer) *log.Logger {
	return log.New(w, "pptpagent ", log.LstdFlags|log.LUTC)
}
