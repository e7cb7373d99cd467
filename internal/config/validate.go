package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig,
			"Config is nil",
			"This is unexpected - try reloading the configuration.")
	}

	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but gpuview only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade gpuview.")
	}

	seen := make(map[string]bool, len(cfg.Servers))
	for i, s := range cfg.Servers {
		if err := ValidateServer(s); err != nil {
			return err
		}
		if seen[s.Name] {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Server name '%s' is used twice (entry %d)", s.Name, i+1),
				"Server names are the key for watchers and reminders. Rename one of them.")
		}
		seen[s.Name] = true
	}

	if err := validatePoll(cfg.Poll); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'poll' section of your config.")
	}
	if err := validateNotify(cfg.Notify); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'notify' section of your config.")
	}
	if err := validateSSH(cfg.SSH); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'ssh' section of your config.")
	}

	return nil
}

// ValidateServer checks one server entry. Zero port and interval are allowed
// and mean the defaults.
func ValidateServer(s Server) error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("A server for host '%s' has no name", s.Host),
			"Give every server a short unique name, like 'lab-a'.")
	}
	if strings.ContainsAny(s.Name, "/ \t") {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Server name '%s' contains spaces or slashes", s.Name),
			"Use letters, digits, dashes or dots.")
	}
	if strings.TrimSpace(s.Host) == "" {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Server '%s' has no host", s.Name),
			"Set 'host' to a hostname, IP, or SSH config alias.")
	}
	if s.Port < 0 || s.Port > 65535 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Server '%s' has port %d, outside 1-65535", s.Name, s.Port),
			"Leave 'port' out to use 22.")
	}
	if s.Interval < 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Server '%s' has a negative interval", s.Name),
			"The interval is in seconds and must be at least 1.")
	}
	return nil
}

func validatePoll(p PollConfig) error {
	if p.Timeout < 0 {
		return fmt.Errorf("poll.timeout can't be negative (got %s)", p.Timeout)
	}
	if p.FreeThreshold < 0 || p.FreeThreshold > 100 {
		return fmt.Errorf("poll.free_threshold must be between 0 and 100 (got %g)", p.FreeThreshold)
	}
	return nil
}

func validateNotify(n NotifyConfig) error {
	switch n.Type {
	case NotifyNone, NotifyLog:
		return nil
	case NotifyWebhook:
		if n.Webhook.URL == "" {
			return fmt.Errorf("notify.webhook.url is required when notify.type is webhook")
		}
		raw := ExpandSecret(n.Webhook.URL)
		if raw == "" {
			return fmt.Errorf("notify.webhook.url %s is not set in the environment", n.Webhook.URL)
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("notify.webhook.url '%s' isn't an http(s) URL", n.Webhook.URL)
		}
		return nil
	case NotifyEmail:
		e := n.Email
		if e.Host == "" {
			return fmt.Errorf("notify.email.host is required when notify.type is email")
		}
		if len(e.To) == 0 {
			return fmt.Errorf("notify.email.to needs at least one recipient")
		}
		for _, addr := range append([]string{e.From}, e.To...) {
			if _, err := mail.ParseAddress(addr); err != nil {
				return fmt.Errorf("'%s' isn't a valid email address", addr)
			}
		}
		return nil
	default:
		return fmt.Errorf("notify.type '%s' isn't one of: webhook, email, log", n.Type)
	}
}

func validateSSH(s SSHConfig) error {
	switch sshutil.HostKeyMode(s.HostKeys) {
	case "", sshutil.HostKeyAcceptNew, sshutil.HostKeyStrict, sshutil.HostKeyOff:
		return nil
	default:
		return fmt.Errorf("ssh.host_keys '%s' isn't one of: accept-new, strict, off", s.HostKeys)
	}
}

// ValidateInterval checks a poll interval in seconds.
func ValidateInterval(seconds int) error {
	if seconds < 1 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Poll interval must be at least 1 second (got %d)", seconds),
			"Pick a whole number of seconds, like 10.")
	}
	return nil
}
