package doctor

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/crypto/ssh/agent"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

var defaultKeyNames = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// keyFiles returns the private keys gpuview would try: the defaults under
// ~/.ssh, then any identity_file from the config.
func keyFiles(home string, identityFiles []string) []string {
	paths := lo.Map(defaultKeyNames, func(name string, _ int) string {
		return filepath.Join(home, ".ssh", name)
	})
	for _, f := range identityFiles {
		paths = append(paths, config.ExpandTilde(f))
	}
	return lo.Uniq(paths)
}

// identityFilesOf lists the identity files configured on servers.
func identityFilesOf(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	return lo.FilterMap(cfg.Servers, func(s config.Server, _ int) (string, bool) {
		return s.IdentityFile, s.IdentityFile != ""
	})
}

// SSHKeyCheck verifies a private key exists.
type SSHKeyCheck struct {
	IdentityFiles []string
}

func (c *SSHKeyCheck) Name() string     { return "ssh_key" }
func (c *SSHKeyCheck) Category() string { return "SSH" }

func (c *SSHKeyCheck) Run() CheckResult {
	home, err := os.UserHomeDir()
	if err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    "Cannot determine home directory",
			Suggestion: "Check HOME environment variable",
		}
	}

	for _, f := range c.IdentityFiles {
		if _, err := os.Stat(config.ExpandTilde(f)); err != nil {
			return CheckResult{
				Status:     StatusFail,
				Message:    "Configured identity file not found: " + f,
				Suggestion: "Fix identity_file in the config, or remove it to use the defaults",
			}
		}
	}

	for _, path := range keyFiles(home, c.IdentityFiles) {
		if _, err := os.Stat(path); err == nil {
			return CheckResult{
				Status:  StatusPass,
				Message: "SSH key found: " + tildePath(home, path),
			}
		}
	}

	// Passwords and agent keys still work without a key file.
	return CheckResult{
		Status:     StatusWarn,
		Message:    "No SSH key found",
		Suggestion: "Generate a key with: ssh-keygen -t ed25519, or set a password for each server",
	}
}

func (c *SSHKeyCheck) Fix() error { return nil }

// SSHAgentCheck verifies the SSH agent is reachable and holds keys.
type SSHAgentCheck struct{}

func (c *SSHAgentCheck) Name() string     { return "ssh_agent" }
func (c *SSHAgentCheck) Category() string { return "SSH" }

func (c *SSHAgentCheck) Run() CheckResult {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "SSH agent not running",
			Suggestion: "Start one with: eval $(ssh-agent) && ssh-add",
		}
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "SSH agent socket not accessible",
			Suggestion: "Start one with: eval $(ssh-agent) && ssh-add",
		}
	}
	defer conn.Close() //nolint:errcheck // Best-effort close, error not actionable

	keys, err := agent.NewClient(conn).List()
	if err != nil {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "Cannot query SSH agent: " + err.Error(),
			Suggestion: "Check SSH agent: ssh-add -l",
		}
	}

	if len(keys) == 0 {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "SSH agent running but no keys loaded",
			Suggestion: "Add a key with: ssh-add",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("SSH agent running with %d key%s loaded", len(keys), pluralize(len(keys))),
	}
}

func (c *SSHAgentCheck) Fix() error { return nil }

// SSHKeyPermissionsCheck verifies private keys aren't readable by others.
type SSHKeyPermissionsCheck struct {
	IdentityFiles []string
}

func (c *SSHKeyPermissionsCheck) Name() string     { return "ssh_key_permissions" }
func (c *SSHKeyPermissionsCheck) Category() string { return "SSH" }

func (c *SSHKeyPermissionsCheck) Run() CheckResult {
	home, err := os.UserHomeDir()
	if err != nil {
		return CheckResult{
			Status: StatusPass, // Skip if we can't check
		}
	}

	found, bad := c.scan(home)
	if found == 0 {
		return CheckResult{
			Status:  StatusPass, // SSH key check will catch this
			Message: "No private keys to check",
		}
	}

	if len(bad) > 0 {
		names := lo.Map(bad, func(p string, _ int) string { return tildePath(home, p) })
		return CheckResult{
			Status:     StatusWarn,
			Message:    "Insecure permissions on: " + strings.Join(names, ", "),
			Suggestion: "Fix: chmod 600 <keyfile>, or run 'gpuview doctor --fix'",
			Fixable:    true,
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: "SSH key permissions OK",
	}
}

func (c *SSHKeyPermissionsCheck) Fix() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	_, bad := c.scan(home)
	for _, keyPath := range bad {
		if err := os.Chmod(keyPath, 0o600); err != nil {
			return fmt.Errorf("failed to fix permissions on %s: %w", keyPath, err)
		}
	}
	return nil
}

// scan returns how many keys exist and which are group or world accessible.
func (c *SSHKeyPermissionsCheck) scan(home string) (int, []string) {
	found := 0
	var bad []string
	for _, keyPath := range keyFiles(home, c.IdentityFiles) {
		info, err := os.Stat(keyPath)
		if err != nil {
			continue
		}
		found++
		if info.Mode().Perm()&0o077 != 0 {
			bad = append(bad, keyPath)
		}
	}
	return found, bad
}

// SSHConfigCheck verifies ~/.ssh/config parses, since server hosts may be
// aliases defined there.
type SSHConfigCheck struct{}

func (c *SSHConfigCheck) Name() string     { return "ssh_config" }
func (c *SSHConfigCheck) Category() string { return "SSH" }

func (c *SSHConfigCheck) Run() CheckResult {
	entries, err := sshutil.ParseSSHConfig()
	if err != nil {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "Cannot parse ~/.ssh/config: " + errors.Summarize(err),
			Suggestion: "Fix the file, or use plain host names in the gpuview config",
		}
	}

	if len(entries) == 0 {
		return CheckResult{
			Status:  StatusPass,
			Message: "No host aliases in ~/.ssh/config",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d host alias%s in ~/.ssh/config", len(entries), lo.Ternary(len(entries) == 1, "", "es")),
	}
}

func (c *SSHConfigCheck) Fix() error { return nil }

// NewSSHChecks creates all SSH-related checks. cfg may be nil.
func NewSSHChecks(cfg *config.Config) []Check {
	identity := identityFilesOf(cfg)
	return []Check{
		&SSHKeyCheck{IdentityFiles: identity},
		&SSHAgentCheck{},
		&SSHKeyPermissionsCheck{IdentityFiles: identity},
		&SSHConfigCheck{},
	}
}

func tildePath(home, path string) string {
	if rel, err := filepath.Rel(home, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.Join("~", rel)
	}
	return path
}
