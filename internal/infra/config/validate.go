package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateHarness(cfg, ve)
	validateLLM(cfg, ve)
	validateSkills(cfg, ve)
	validateScheduler(cfg, ve)
	validatePlugins(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateHarness(cfg *Config, ve *ValidationError) {
	if cfg.Harness.MaxToolIterations <= 0 {
		ve.Add("harness.max_tool_iterations must be > 0")
	}
	l := cfg.Harness.Limits
	for name, v := range map[string]int{
		"max_transcript": l.MaxTranscript,
		"max_logs":       l.MaxLogs,
		"max_tasks":      l.MaxTasks,
		"max_subagents":  l.MaxSubagents,
		"max_skills":     l.MaxSkills,
	} {
		if v < 0 {
			ve.Add("harness.limits.%s must be >= 0", name)
		}
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must not be empty")
		return
	}
	seen := make(map[string]bool, len(cfg.LLM.Providers))
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				ve.Add("llm.providers[%d].base_url %q is not an absolute URL", i, p.BaseURL)
			}
		}
		if p.Model == "" && len(p.Models) == 0 {
			ve.Add("llm.providers[%d] (%s): model or models must be set", i, p.Name)
		}
		for j, m := range p.Models {
			if m.ID == "" {
				ve.Add("llm.providers[%d].models[%d].id must not be empty", i, j)
			}
			if m.TokenLimit < 0 {
				ve.Add("llm.providers[%d].models[%d].token_limit must be >= 0", i, j)
			}
		}
		if p.ConnTimeout < 0 || p.RespTimeout < 0 {
			ve.Add("llm.providers[%d] (%s): timeouts must be >= 0", i, p.Name)
		}
	}
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	} else if !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any provider", cfg.LLM.DefaultProvider)
	}

	if cb := cfg.LLM.CircuitBreaker; cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cb.Timeout <= 0 {
			ve.Add("llm.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
	if rl := cfg.LLM.RateLimit; rl.RequestsPerMinute < 0 || rl.Burst < 0 {
		ve.Add("llm.rate_limit values must be >= 0")
	}
}

func validateSkills(cfg *Config, ve *ValidationError) {
	if cfg.Skills.Watch && cfg.Skills.Dir == "" {
		ve.Add("skills.dir must be set when skills.watch is enabled")
	}
	if cfg.Skills.Debounce < 0 {
		ve.Add("skills.debounce must be >= 0")
	}
}

// ScheduledActions lists the action names a scheduled task may use.
var ScheduledActions = map[string]bool{
	"session_refresh": true,
	"command_reload":  true,
	"session_prune":   true,
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	names := make(map[string]bool, len(cfg.Scheduler.Tasks))
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name must not be empty", i)
		} else if names[t.Name] {
			ve.Add("scheduler.tasks[%d]: duplicate name %q", i, t.Name)
		}
		names[t.Name] = true
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule must not be empty", i)
		}
		if !ScheduledActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is unknown", i, t.Action)
		}
	}
}

// BuiltinPlugins lists the plugin names plugins.builtin may reference.
var BuiltinPlugins = map[string]bool{
	"toolstats": true,
	"workspace": true,
}

func validatePlugins(cfg *Config, ve *ValidationError) {
	if !cfg.Plugins.Enabled {
		return
	}
	for i, name := range cfg.Plugins.Builtin {
		if !BuiltinPlugins[name] {
			ve.Add("plugins.builtin[%d]: unknown plugin %q", i, name)
		}
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	if f := cfg.Logger.Format; f != "text" && f != "json" {
		ve.Add("logger.format %q must be text or json", f)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter)
	}
}
