package doctor

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh/agent"

	"github.com/coco-alen/gpu-usage-view/internal/config"
)

func writeKey(t *testing.T, path string, perm os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("fake-key"), perm))
	require.NoError(t, os.Chmod(path, perm))
}

func TestSSHKeyCheck(t *testing.T) {
	t.Run("name and category", func(t *testing.T) {
		check := &SSHKeyCheck{}
		assert.Equal(t, "ssh_key", check.Name())
		assert.Equal(t, "SSH", check.Category())
	})

	t.Run("no keys warns", func(t *testing.T) {
		isolate(t)
		result := (&SSHKeyCheck{}).Run()
		assert.Equal(t, StatusWarn, result.Status)
		assert.Equal(t, "No SSH key found", result.Message)
	})

	t.Run("default key", func(t *testing.T) {
		home := isolate(t)
		writeKey(t, filepath.Join(home, ".ssh", "id_rsa"), 0o600)

		result := (&SSHKeyCheck{}).Run()
		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "SSH key found: ~/.ssh/id_rsa", result.Message)
	})

	t.Run("configured identity file", func(t *testing.T) {
		home := isolate(t)
		writeKey(t, filepath.Join(home, "keys", "lab"), 0o600)

		result := (&SSHKeyCheck{IdentityFiles: []string{"~/keys/lab"}}).Run()
		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "SSH key found: ~/keys/lab", result.Message)
	})

	t.Run("missing identity file fails", func(t *testing.T) {
		home := isolate(t)
		writeKey(t, filepath.Join(home, ".ssh", "id_ed25519"), 0o600)

		result := (&SSHKeyCheck{IdentityFiles: []string{"~/keys/gone"}}).Run()
		assert.Equal(t, StatusFail, result.Status)
		assert.Contains(t, result.Message, "~/keys/gone")
	})
}

func TestSSHAgentCheck(t *testing.T) {
	check := &SSHAgentCheck{}

	t.Run("name and category", func(t *testing.T) {
		assert.Equal(t, "ssh_agent", check.Name())
		assert.Equal(t, "SSH", check.Category())
	})

	t.Run("without SSH_AUTH_SOCK", func(t *testing.T) {
		t.Setenv("SSH_AUTH_SOCK", "")
		result := check.Run()
		assert.Equal(t, StatusWarn, result.Status)
		assert.Equal(t, "SSH agent not running", result.Message)
	})

	t.Run("dead socket", func(t *testing.T) {
		t.Setenv("SSH_AUTH_SOCK", filepath.Join(t.TempDir(), "agent.sock"))
		result := check.Run()
		assert.Equal(t, StatusWarn, result.Status)
		assert.Equal(t, "SSH agent socket not accessible", result.Message)
	})

	t.Run("agent with keys", func(t *testing.T) {
		keyring := agent.NewKeyring()
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		require.NoError(t, keyring.Add(agent.AddedKey{PrivateKey: priv}))

		t.Setenv("SSH_AUTH_SOCK", serveAgent(t, keyring))
		result := check.Run()
		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "SSH agent running with 1 key loaded", result.Message)
	})

	t.Run("empty agent", func(t *testing.T) {
		t.Setenv("SSH_AUTH_SOCK", serveAgent(t, agent.NewKeyring()))
		result := check.Run()
		assert.Equal(t, StatusWarn, result.Status)
		assert.Equal(t, "SSH agent running but no keys loaded", result.Message)
	})
}

// serveAgent serves keyring on a unix socket and returns its path.
func serveAgent(t *testing.T, keyring agent.Agent) string {
	t.Helper()
	// Unix socket paths are length-limited, so avoid the long test temp dir.
	dir, err := os.MkdirTemp("", "gv-agent")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	sock := filepath.Join(dir, "agent.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = agent.ServeAgent(keyring, conn)
			}()
		}
	}()
	return sock
}

func TestSSHKeyPermissionsCheck(t *testing.T) {
	t.Run("name and category", func(t *testing.T) {
		check := &SSHKeyPermissionsCheck{}
		assert.Equal(t, "ssh_key_permissions", check.Name())
		assert.Equal(t, "SSH", check.Category())
	})

	t.Run("no keys", func(t *testing.T) {
		isolate(t)
		result := (&SSHKeyPermissionsCheck{}).Run()
		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "No private keys to check", result.Message)
	})

	t.Run("secure keys", func(t *testing.T) {
		home := isolate(t)
		writeKey(t, filepath.Join(home, ".ssh", "id_ed25519"), 0o600)
		writeKey(t, filepath.Join(home, ".ssh", "id_rsa"), 0o400)

		result := (&SSHKeyPermissionsCheck{}).Run()
		assert.Equal(t, StatusPass, result.Status)
	})

	t.Run("fix insecure permissions", func(t *testing.T) {
		home := isolate(t)
		key := filepath.Join(home, ".ssh", "id_ed25519")
		custom := filepath.Join(home, "keys", "lab")
		writeKey(t, key, 0o644)
		writeKey(t, custom, 0o640)

		check := &SSHKeyPermissionsCheck{IdentityFiles: []string{"~/keys/lab"}}
		result := check.Run()
		assert.Equal(t, StatusWarn, result.Status)
		assert.True(t, result.Fixable)
		assert.Contains(t, result.Message, "~/.ssh/id_ed25519")
		assert.Contains(t, result.Message, "~/keys/lab")

		require.NoError(t, check.Fix())
		for _, p := range []string{key, custom} {
			info, err := os.Stat(p)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
		}
		assert.Equal(t, StatusPass, check.Run().Status)
	})
}

func TestSSHConfigCheck(t *testing.T) {
	t.Run("no ssh config", func(t *testing.T) {
		isolate(t)
		result := (&SSHConfigCheck{}).Run()
		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "No host aliases in ~/.ssh/config", result.Message)
	})

	t.Run("aliases", func(t *testing.T) {
		home := isolate(t)
		content := "Host lab-a\n  HostName 10.0.0.1\n\nHost lab-b\n  HostName 10.0.0.2\n\nHost *\n  User alice\n"
		require.NoError(t, os.MkdirAll(filepath.Join(home, ".ssh"), 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(home, ".ssh", "config"), []byte(content), 0o600))

		result := (&SSHConfigCheck{}).Run()
		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "2 host aliases in ~/.ssh/config", result.Message)
	})
}

func TestNewSSHChecks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Servers = []config.Server{
		{Name: "lab-a", Host: "a", IdentityFile: "~/keys/lab"},
		{Name: "lab-b", Host: "b"},
	}

	checks := NewSSHChecks(cfg)
	require.Len(t, checks, 4)
	assert.Equal(t, []string{"~/keys/lab"}, checks[0].(*SSHKeyCheck).IdentityFiles)
	assert.Equal(t, []string{"~/keys/lab"}, checks[2].(*SSHKeyPermissionsCheck).IdentityFiles)

	assert.Len(t, NewSSHChecks(nil), 4)
}
