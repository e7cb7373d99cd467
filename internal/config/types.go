package config

import (
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

const (
	// DefaultPort is the SSH port used when a server doesn't set one.
	DefaultPort = 22
	// DefaultInterval is the poll interval in seconds used when a server doesn't set one.
	DefaultInterval = 10
	// DefaultPollTimeout bounds one remote query.
	DefaultPollTimeout = 30 * time.Second
)

// Notify types.
const (
	NotifyNone    = ""
	NotifyLog     = "log"
	NotifyWebhook = "webhook"
	NotifyEmail   = "email"
)

// Config represents the complete gpuview.yaml configuration file.
type Config struct {
	Version int           `yaml:"version" mapstructure:"version"`
	Servers []Server      `yaml:"servers" mapstructure:"servers"`
	Poll    PollConfig    `yaml:"poll" mapstructure:"poll"`
	Remind  remind.Policy `yaml:"remind" mapstructure:"remind"`
	Notify  NotifyConfig  `yaml:"notify" mapstructure:"notify"`
	SSH     SSHConfig     `yaml:"ssh" mapstructure:"ssh"`
	// LogFile receives log output while the dashboard owns the terminal.
	LogFile string `yaml:"log_file,omitempty" mapstructure:"log_file"`
}

// Server is one watched host. Name is the unique key.
type Server struct {
	Name string `yaml:"name" mapstructure:"name"`
	// Host is a hostname, IP, or ~/.ssh/config alias.
	Host     string `yaml:"host" mapstructure:"host"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	// Password may reference an environment variable as ${VAR}.
	Password     string `yaml:"password,omitempty" mapstructure:"password"`
	IdentityFile string `yaml:"identity_file,omitempty" mapstructure:"identity_file"`
	Port         int    `yaml:"port,omitempty" mapstructure:"port"`
	// Interval is the poll interval in seconds.
	Interval int `yaml:"interval,omitempty" mapstructure:"interval"`
}

// PollConfig controls remote queries.
type PollConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// FreeThreshold is the utilization percentage under which a GPU counts as free.
	FreeThreshold float64 `yaml:"free_threshold" mapstructure:"free_threshold"`
}

// NotifyConfig selects and configures the alert channel.
type NotifyConfig struct {
	Type string `yaml:"type" mapstructure:"type"`
	// Prefix is prepended to every alert, e.g. "Notice: ".
	Prefix  string        `yaml:"prefix,omitempty" mapstructure:"prefix"`
	Webhook WebhookConfig `yaml:"webhook,omitempty" mapstructure:"webhook"`
	Email   EmailConfig   `yaml:"email,omitempty" mapstructure:"email"`
}

// WebhookConfig is a chat-bot webhook (DingTalk-style text messages).
type WebhookConfig struct {
	URL string `yaml:"url,omitempty" mapstructure:"url"`
	// Secret enables HMAC-SHA256 request signing when set.
	Secret string `yaml:"secret,omitempty" mapstructure:"secret"`
}

// EmailConfig is an SMTP relay.
type EmailConfig struct {
	Host     string   `yaml:"host,omitempty" mapstructure:"host"`
	Port     int      `yaml:"port,omitempty" mapstructure:"port"`
	Username string   `yaml:"username,omitempty" mapstructure:"username"`
	Password string   `yaml:"password,omitempty" mapstructure:"password"`
	From     string   `yaml:"from,omitempty" mapstructure:"from"`
	To       []string `yaml:"to,omitempty" mapstructure:"to"`
}

// SSHConfig controls host key handling.
type SSHConfig struct {
	// HostKeys is "accept-new" (default), "strict", or "off".
	HostKeys   string `yaml:"host_keys" mapstructure:"host_keys"`
	KnownHosts string `yaml:"known_hosts,omitempty" mapstructure:"known_hosts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Servers: []Server{},
		Poll: PollConfig{
			Timeout:       DefaultPollTimeout,
			FreeThreshold: monitor.DefaultFreeThreshold,
		},
		Notify: NotifyConfig{
			Prefix: "Notice: ",
		},
		SSH: SSHConfig{
			HostKeys: string(sshutil.HostKeyAcceptNew),
		},
	}
}

// Server returns the server with the given name.
func (c *Config) Server(name string) (Server, bool) {
	return lo.Find(c.Servers, func(s Server) bool { return s.Name == name })
}

// ServerNames returns server names in config order.
func (c *Config) ServerNames() []string {
	return lo.Map(c.Servers, func(s Server, _ int) string { return s.Name })
}

// DialOptions converts the SSH section into sshutil options.
func (c *Config) DialOptions() sshutil.Options {
	return sshutil.Options{
		Timeout:    c.Poll.Timeout,
		HostKeys:   sshutil.HostKeyMode(c.SSH.HostKeys),
		KnownHosts: ExpandTilde(c.SSH.KnownHosts),
	}
}

// withDefaults fills zero port and interval.
func (s Server) withDefaults() Server {
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Interval == 0 {
		s.Interval = DefaultInterval
	}
	return s
}

// IntervalDuration returns the poll interval as a duration.
func (s Server) IntervalDuration() time.Duration {
	return time.Duration(s.Interval) * time.Second
}

// Target converts the server into an SSH dial target, resolving ${VAR}
// references in the password.
func (s Server) Target() sshutil.Target {
	return sshutil.Target{
		Host:         s.Host,
		Port:         s.Port,
		User:         s.Username,
		Password:     ExpandSecret(s.Password),
		IdentityFile: ExpandTilde(s.IdentityFile),
	}
}

// Address is host:port for display.
func (s Server) Address() string {
	if s.Port == 0 || s.Port == DefaultPort {
		return s.Host
	}
	return s.Host + ":" + strconv.Itoa(s.Port)
}
