package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.DataDir == "" {
		errs = append(errs, ValidationError{Field: "data_dir", Message: "must not be empty"})
	}

	host := strings.TrimPrefix(c.ProtocolVersion, "v")
	if strings.Count(host, ".") != 2 || !semver.IsValid("v"+host) {
		errs = append(errs, ValidationError{
			Field:   "protocol_version",
			Message: fmt.Sprintf("%q is not MAJOR.MINOR.PATCH", c.ProtocolVersion),
		})
	}

	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			errs = append(errs, ValidationError{Field: "listen", Message: err.Error()})
		}
	}

	positive := []struct {
		field string
		value time.Duration
	}{
		{"supervisor.teardown_delay", c.Supervisor.TeardownDelay},
		{"supervisor.ready_poll_interval", c.Supervisor.ReadyPollInterval},
		{"supervisor.ready_probe_timeout", c.Supervisor.ReadyProbeTimeout},
		{"supervisor.default_ready_timeout", c.Supervisor.DefaultReadyTimeout},
		{"supervisor.kill_grace", c.Supervisor.KillGrace},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{Field: p.field, Message: "must be a positive duration"})
		}
	}
	if c.Supervisor.DetachedReleaseDelay < 0 {
		errs = append(errs, ValidationError{Field: "supervisor.detached_release_delay", Message: "must not be negative"})
	}

	if c.Interpreters.Python == "" {
		errs = append(errs, ValidationError{Field: "interpreters.python", Message: "must not be empty"})
	}
	if c.Interpreters.Node == "" {
		errs = append(errs, ValidationError{Field: "interpreters.node", Message: "must not be empty"})
	}

	for i, ref := range c.LocalTools {
		if strings.TrimSpace(ref.Path) == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("local_tools[%d].path", i), Message: "must not be empty"})
		}
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		errs = append(errs, ValidationError{Field: "tracing.sample_rate", Message: "must be between 0 and 1"})
	}

	return errs
}

func validationErrors(errs []ValidationError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}
