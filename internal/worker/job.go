package worker

import (
	"time"

	"github.com/pingsantohq/pptpagent/pkg/types"
)

type Job struct {
	Target       types.Target
	Timeout      time.Duration
	ReadTimeout  time.Duration
	ScheduledFor time.Time
}
