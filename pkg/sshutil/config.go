package sshutil

import (
	"bytes"
	"cmp"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// SSHHostEntry is a concrete host alias from an SSH config file.
type SSHHostEntry struct {
	Alias        string
	Hostname     string
	User         string
	Port         string
	IdentityFile string
}

// Description returns a short summary of where the alias points.
func (h SSHHostEntry) Description() string {
	var parts []string
	if h.Hostname != "" && h.Hostname != h.Alias {
		parts = append(parts, h.Hostname)
	}
	if h.User != "" {
		parts = append(parts, "user: "+h.User)
	}
	if h.Port != "" && h.Port != "22" {
		parts = append(parts, "port: "+h.Port)
	}
	if len(parts) == 0 {
		return h.Alias
	}
	return strings.Join(parts, ", ")
}

// PortNumber returns the entry's port, or 22 when unset or invalid.
func (h SSHHostEntry) PortNumber() int {
	if p, err := strconv.Atoi(h.Port); err == nil && p > 0 {
		return p
	}
	return 22
}

// ParseSSHConfig parses ~/.ssh/config and returns its concrete host aliases.
func ParseSSHConfig() ([]SSHHostEntry, error) {
	return ParseSSHConfigFile(filepath.Join(homeDir(), ".ssh", "config"))
}

// ParseSSHConfigFile reads the concrete aliases of one SSH config file,
// sorted by alias. Patterns containing wildcards are not hosts you can pick,
// so they are left out. A missing file is not an error.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	content, _, err := preprocessSSHConfig(configPath)
	switch {
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	byAlias := make(map[string]SSHHostEntry)
	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()
			if _, dup := byAlias[alias]; dup || strings.ContainsAny(alias, "*?") {
				continue
			}
			byAlias[alias] = lookupEntry(cfg, alias)
		}
	}

	entries := make([]SSHHostEntry, 0, len(byAlias))
	for _, e := range byAlias {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b SSHHostEntry) int { return cmp.Compare(a.Alias, b.Alias) })
	return entries, nil
}

// lookupEntry resolves alias the way ssh would, so Host * defaults apply.
func lookupEntry(cfg *ssh_config.Config, alias string) SSHHostEntry {
	get := func(key string) string {
		v, _ := cfg.Get(alias, key)
		return v
	}
	e := SSHHostEntry{
		Alias:    alias,
		Hostname: get("HostName"),
		User:     get("User"),
		Port:     get("Port"),
	}
	if id := get("IdentityFile"); id != "" {
		e.IdentityFile = expandPath(id)
	}
	return e
}
