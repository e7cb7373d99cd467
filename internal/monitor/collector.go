package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/logger"
	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

// Collector runs the nvidia-smi query on remote hosts over pooled SSH connections.
type Collector struct {
	pool    *Pool
	command string
	log     logger.Logger
}

// NewCollector creates a collector that runs QueryCommand over pool.
func NewCollector(pool *Pool, log logger.Logger) *Collector {
	if log == nil {
		log = logger.Noop()
	}
	return &Collector{
		pool:    pool,
		command: QueryCommand,
		log:     log,
	}
}

// Fetch runs the query on target and returns its raw CSV output.
//
// Connection, authentication and timeout failures come back with the codes
// sshutil assigns. A non-zero exit from nvidia-smi is ErrExec. After a
// transport failure the pooled connection is dropped so the next fetch redials.
func (c *Collector) Fetch(ctx context.Context, name string, target sshutil.Target) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrTimeout,
			"Poll of "+name+" was cancelled", "")
	}

	var dialTimeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline)
	}

	client, err := c.pool.Get(name, target, dialTimeout)
	if err != nil {
		c.log.Debug("dial %s failed: %v", name, err)
		return "", err
	}

	stdout, stderr, exitCode, err := client.ExecContext(ctx, c.command)
	if err != nil {
		c.pool.CloseOne(name)
		c.log.Debug("query on %s failed: %v", name, err)
		if errors.CodeOf(err) != "" {
			return "", err
		}
		if ctx.Err() != nil {
			return "", errors.WrapWithCode(err, errors.ErrTimeout,
				"Query on "+name+" timed out", "Raise poll.timeout if the host is slow to answer")
		}
		return "", errors.WrapWithCode(err, errors.ErrSSH,
			"Query on "+name+" failed", "The connection will be reopened on the next poll")
	}

	if exitCode != 0 {
		return "", execError(name, exitCode, stderr)
	}

	return string(stdout), nil
}

// Close closes every pooled connection.
func (c *Collector) Close() {
	c.pool.Close()
}

func execError(name string, exitCode int, stderr []byte) error {
	detail := strings.TrimSpace(string(stderr))
	msg := "nvidia-smi failed on " + name
	if detail != "" {
		msg += ": " + detail
	}

	suggestion := "Run nvidia-smi on the host to see the full error"
	if exitCode == 127 || strings.Contains(detail, "not found") {
		suggestion = "Install the NVIDIA driver on the host or put nvidia-smi on PATH"
	}

	return errors.New(errors.ErrExec, msg, suggestion)
}
