package doctor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/monitor/parsers"
	"github.com/coco-alen/gpu-usage-view/internal/watcher"
)

// ServerCheck runs one real nvidia-smi query against a server, the same way a
// watcher polls it.
type ServerCheck struct {
	Server    config.Server
	Source    watcher.Source
	Timeout   time.Duration
	Threshold float64
}

func (c *ServerCheck) Name() string     { return "server_" + c.Server.Name }
func (c *ServerCheck) Category() string { return "SERVERS" }

func (c *ServerCheck) Run() CheckResult {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = config.DefaultPollTimeout
	}
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = monitor.DefaultFreeThreshold
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.Source.Fetch(ctx, c.Server.Name, c.Server.Target())
	if err != nil {
		return c.failure(err)
	}
	latency := time.Since(start)

	snap, err := parsers.ParseNvidiaSMI(raw)
	if err != nil {
		return c.failure(err)
	}
	summary, err := monitor.Summarize(snap, threshold)
	if err != nil {
		return c.failure(err)
	}

	free := lo.CountBy(snap.Records, func(r monitor.GPURecord) bool {
		return r.GPUUtil < threshold && r.MemoryUtil < threshold
	})
	result := CheckResult{
		Status: StatusPass,
		Message: fmt.Sprintf("%s: %d GPU%s (%s), %d free, %dms",
			c.Server.Name, snap.Len(), pluralize(snap.Len()),
			strings.Join(lo.Uniq(summary.GPUNames), ", "), free, latency.Milliseconds()),
	}
	if summary.DeadProcess {
		result.Status = StatusWarn
		result.Message += ", memory held with no compute load"
		result.Suggestion = "Look for a stuck process: " + sshCommand(c.Server)
	}
	return result
}

func (c *ServerCheck) failure(err error) CheckResult {
	return CheckResult{
		Status:     StatusFail,
		Message:    fmt.Sprintf("%s: %s (%s)", c.Server.Name, watcher.MessageFor(err), errors.Summarize(err)),
		Suggestion: suggestionOf(err, "Try: "+sshCommand(c.Server)),
	}
}

func (c *ServerCheck) Fix() error { return nil }

// sshCommand is the manual equivalent of the probe.
func sshCommand(s config.Server) string {
	cmd := "ssh "
	if s.Port != 0 && s.Port != config.DefaultPort {
		cmd += fmt.Sprintf("-p %d ", s.Port)
	}
	if s.Username != "" {
		cmd += s.Username + "@"
	}
	return cmd + s.Host + " nvidia-smi"
}

// NewServerChecks creates one probe per configured server.
func NewServerChecks(cfg *config.Config, source watcher.Source) []Check {
	if cfg == nil {
		return nil
	}
	return lo.Map(cfg.Servers, func(s config.Server, _ int) Check {
		return &ServerCheck{
			Server:    s,
			Source:    source,
			Timeout:   cfg.Poll.Timeout,
			Threshold: cfg.Poll.FreeThreshold,
		}
	})
}
