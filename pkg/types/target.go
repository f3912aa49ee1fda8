package types

// Target is one PPTP endpoint and the login to probe it with.
type Target struct {
	ID            string `json:"id" yaml:"id"`
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port,omitempty" yaml:"port,omitempty"`
	Login         string `json:"login" yaml:"login"`
	Password      string `json:"-" yaml:"password"`
	CadenceMillis int    `json:"cadence_ms,omitempty" yaml:"cadence_ms,omitempty"`
	TimeoutMillis int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Disabled      bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}
