package doctor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
)

// ConfigFileCheck verifies that a config file exists.
type ConfigFileCheck struct {
	ConfigPath string // Explicit path, or empty to search
}

func (c *ConfigFileCheck) Name() string     { return "config_file" }
func (c *ConfigFileCheck) Category() string { return "CONFIG" }

func (c *ConfigFileCheck) Run() CheckResult {
	path, err := config.Find(c.ConfigPath)
	if err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    "Error finding config: " + errors.Summarize(err),
			Suggestion: "Check the --config path and its permissions",
		}
	}

	if path == "" {
		return CheckResult{
			Status:     StatusFail,
			Message:    "No config file found",
			Suggestion: "Run 'gpuview server add' to create " + config.ConfigFileName,
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("Config file: %s", filepath.Base(path)),
	}
}

func (c *ConfigFileCheck) Fix() error { return nil }

// ConfigSchemaCheck verifies that the config file loads and validates.
type ConfigSchemaCheck struct {
	ConfigPath string
}

func (c *ConfigSchemaCheck) Name() string     { return "config_schema" }
func (c *ConfigSchemaCheck) Category() string { return "CONFIG" }

func (c *ConfigSchemaCheck) Run() CheckResult {
	path, err := config.Find(c.ConfigPath)
	if err != nil || path == "" {
		// ConfigFileCheck should catch this
		return CheckResult{
			Status:  StatusFail,
			Message: "Cannot validate schema: no config file",
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    "Failed to load config: " + errors.Summarize(err),
			Suggestion: "Check the YAML syntax in " + path,
		}
	}

	if err := config.Validate(cfg); err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    "Schema error: " + errors.Summarize(err),
			Suggestion: suggestionOf(err, "Fix the configuration errors in "+path),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: "Schema valid",
	}
}

func (c *ConfigSchemaCheck) Fix() error { return nil }

// ConfigServersCheck verifies servers are configured and their ${VAR}
// passwords resolve.
type ConfigServersCheck struct {
	Config *config.Config // nil when the config didn't load
}

func (c *ConfigServersCheck) Name() string     { return "config_servers" }
func (c *ConfigServersCheck) Category() string { return "CONFIG" }

func (c *ConfigServersCheck) Run() CheckResult {
	if c.Config == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "Cannot check servers: config load error",
		}
	}

	n := len(c.Config.Servers)
	if n == 0 {
		return CheckResult{
			Status:     StatusFail,
			Message:    "No servers configured",
			Suggestion: "Add one with 'gpuview server add' or 'gpuview server import'",
		}
	}

	unresolved := lo.FilterMap(c.Config.Servers, func(s config.Server, _ int) (string, bool) {
		return s.Name, config.IsSecretRef(s.Password) && config.ExpandSecret(s.Password) == ""
	})
	if len(unresolved) > 0 {
		return CheckResult{
			Status:     StatusWarn,
			Message:    fmt.Sprintf("Password variable not set for: %s", strings.Join(unresolved, ", ")),
			Suggestion: "Export the variable or add it to the .env file next to the config",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d server%s configured", n, pluralize(n)),
	}
}

func (c *ConfigServersCheck) Fix() error { return nil }

// NotifyCheck verifies reminders have somewhere to go.
type NotifyCheck struct {
	Config *config.Config
}

func (c *NotifyCheck) Name() string     { return "notify" }
func (c *NotifyCheck) Category() string { return "CONFIG" }

func (c *NotifyCheck) Run() CheckResult {
	if c.Config == nil {
		return CheckResult{
			Status:  StatusPass, // Other checks catch this
			Message: "No config to check",
		}
	}

	n := c.Config.Notify
	policy := c.Config.Remind

	if n.Type == config.NotifyNone {
		if policy.Enabled() {
			return CheckResult{
				Status:     StatusWarn,
				Message:    fmt.Sprintf("Reminders are on (%s) but notify.type is not set", policy.Mode()),
				Suggestion: "Set notify.type to log, webhook or email",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: "Reminders off",
		}
	}

	type ref struct{ key, value string }
	var refs []ref
	switch n.Type {
	case config.NotifyWebhook:
		refs = []ref{{"notify.webhook.url", n.Webhook.URL}, {"notify.webhook.secret", n.Webhook.Secret}}
	case config.NotifyEmail:
		refs = []ref{{"notify.email.password", n.Email.Password}}
	}
	unset := lo.FilterMap(refs, func(r ref, _ int) (string, bool) {
		return r.key + " " + r.value, config.IsSecretRef(r.value) && config.ExpandSecret(r.value) == ""
	})
	if len(unset) > 0 {
		return CheckResult{
			Status:     StatusFail,
			Message:    "Variable not set: " + strings.Join(unset, ", "),
			Suggestion: "Export the variable or add it to the .env file next to the config",
		}
	}

	if !policy.Enabled() {
		return CheckResult{
			Status:     StatusWarn,
			Message:    fmt.Sprintf("Alerts go to %s, but reminders are off", n.Type),
			Suggestion: "Turn them on with 'gpuview remind'",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("Reminders (%s) go to %s", policy.Mode(), n.Type),
	}
}

func (c *NotifyCheck) Fix() error { return nil }

// NewConfigChecks creates all config-related checks. cfg may be nil when the
// config didn't load.
func NewConfigChecks(configPath string, cfg *config.Config) []Check {
	return []Check{
		&ConfigFileCheck{ConfigPath: configPath},
		&ConfigSchemaCheck{ConfigPath: configPath},
		&ConfigServersCheck{Config: cfg},
		&NotifyCheck{Config: cfg},
	}
}

// suggestionOf returns a structured error's suggestion, or fallback.
func suggestionOf(err error, fallback string) string {
	if s := errors.SuggestionOf(err); s != "" {
		return s
	}
	return fallback
}
