package diag

import (
	"net/url"
	"regexp"

	"github.com/pingsantohq/pptpagent/internal/config"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

const redactedMarker = "REDACTED"

var (
	passwordPattern = regexp.MustCompile(`(?i)(password["']?\s*[:=]\s*)("[^"]*"|'[^']*'|[^\s,}&]+)`)
	tokenPattern    = regexp.MustCompile(`(?i)((?:access[_-]?)?token["']?\s*[:=]\s*)("[^"]*"|'[^']*'|[^\s,}&]+)`)
	bearerPattern   = regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)([A-Za-z0-9\._\-]+)`)
	userinfoPattern = regexp.MustCompile(`(://[^:/@\s]+:)([^@\s]+)(@)`)
)

// RedactConfig returns a copy of cfg with target passwords and database
// credentials masked. Both URL and keyword/value connection strings are
// handled.
func RedactConfig(cfg config.Config) config.Config {
	targets := make([]types.Target, len(cfg.Targets))
	for i, t := range cfg.Targets {
		if t.Password != "" {
			t.Password = redactedMarker
		}
		targets[i] = t
	}
	cfg.Targets = targets

	if cfg.Agent.DatabaseURL != "" {
		dsn := cfg.Agent.DatabaseURL
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
			if _, set := u.User.Password(); set {
				u.User = url.UserPassword(u.User.Username(), redactedMarker)
				dsn = u.String()
			}
		}
		// keyword DSNs and query parameters carry password=...
		cfg.Agent.DatabaseURL = string(RedactText([]byte(dsn)))
	}
	return cfg
}

// RedactText masks credentials in raw text that could not be parsed as a
// config.
func RedactText(data []byte) []byte {
	text := string(data)
	for _, pattern := range []*regexp.Regexp{passwordPattern, tokenPattern, bearerPattern} {
		text = pattern.ReplaceAllString(text, "${1}"+redactedMarker)
	}
	text = userinfoPattern.ReplaceAllString(text, "${1}"+redactedMarker+"${3}")
	return []byte(text)
}
