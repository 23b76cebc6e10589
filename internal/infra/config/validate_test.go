package config

import (
	"errors"
	"strings"
	"testing"
)

func validationErrors(t *testing.T, cfg *Config) []string {
	t.Helper()
	err := Validate(cfg)
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %T, want *ValidationError", err)
	}
	return ve.Errors
}

func containsError(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestValidateTable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no providers", func(c *Config) { c.LLM.Providers = nil }, "llm.providers must not be empty"},
		{"duplicate provider", func(c *Config) {
			c.LLM.Providers = append(c.LLM.Providers, c.LLM.Providers[0])
		}, "duplicate name"},
		{"unknown default", func(c *Config) { c.LLM.DefaultProvider = "x" }, "does not match any provider"},
		{"relative base url", func(c *Config) { c.LLM.Providers[0].BaseURL = "localhost" }, "not an absolute URL"},
		{"no model", func(c *Config) { c.LLM.Providers[0].Model = "" }, "model or models must be set"},
		{"breaker without failures", func(c *Config) { c.LLM.CircuitBreaker.MaxFailures = 0 }, "max_failures"},
		{"negative limit", func(c *Config) { c.Harness.Limits.MaxLogs = -1 }, "harness.limits.max_logs"},
		{"zero iterations", func(c *Config) { c.Harness.MaxToolIterations = 0 }, "max_tool_iterations"},
		{"watch without dir", func(c *Config) { c.Skills.Dir = "" }, "skills.dir"},
		{"unknown action", func(c *Config) { c.Scheduler.Tasks[0].Action = "reboot" }, `action "reboot" is unknown`},
		{"unknown plugin", func(c *Config) { c.Plugins.Builtin = []string{"nope"} }, `unknown plugin "nope"`},
		{"bad format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
		{"bad exporter", func(c *Config) {
			c.Tracer.Enabled = true
			c.Tracer.Exporter = "jaeger"
		}, "tracer.exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			errs := validationErrors(t, cfg)
			if !containsError(errs, tt.want) {
				t.Errorf("errors %v do not mention %q", errs, tt.want)
			}
		})
	}
}

func TestValidateSkipsDisabledSections(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.Tasks = []ScheduledTaskConfig{{Action: "bogus"}}
	cfg.Plugins.Enabled = false
	cfg.Plugins.Builtin = []string{"bogus"}
	if errs := validationErrors(t, cfg); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	ve := &ValidationError{}
	ve.Add("a %d", 1)
	ve.Add("b")
	if got := ve.Error(); got != "config validation failed:\n  - a 1\n  - b" {
		t.Errorf("Error() = %q", got)
	}
}
