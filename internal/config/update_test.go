package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
)

func TestAddServer(t *testing.T) {
	tests := []struct {
		name         string
		initialYAML  string
		server       Server
		wantContains []string
		wantErr      string
	}{
		{
			name: "append keeps comments",
			initialYAML: `version: 1
# the lab boxes
servers:
  - name: lab-a
    host: 10.0.0.5
`,
			server:       Server{Name: "lab-b", Host: "gpu-box", Interval: 30},
			wantContains: []string{"# the lab boxes", "name: lab-a", "name: lab-b", "interval: 30"},
		},
		{
			name:         "adds servers key",
			initialYAML:  "version: 1\n",
			server:       Server{Name: "lab-a", Host: "10.0.0.5"},
			wantContains: []string{"servers:", "name: lab-a", "host: 10.0.0.5"},
		},
		{
			name: "duplicate name",
			initialYAML: `servers:
  - name: lab-a
    host: 10.0.0.5
`,
			server:  Server{Name: "lab-a", Host: "other"},
			wantErr: "already exists",
		},
		{
			name:        "invalid server",
			initialYAML: "version: 1\n",
			server:      Server{Name: "lab-a"},
			wantErr:     "has no host",
		},
		{
			name:        "top level is a list",
			initialYAML: "- a\n- b\n",
			server:      Server{Name: "lab-a", Host: "h"},
			wantErr:     "isn't a YAML mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ConfigFileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.initialYAML), 0600))

			err := AddServer(path, tt.server)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.ErrConfig))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			for _, want := range tt.wantContains {
				assert.Contains(t, string(data), want)
			}

			cfg, err := Load(path)
			require.NoError(t, err)
			_, ok := cfg.Server(tt.server.Name)
			assert.True(t, ok, "new server loads back")
		})
	}
}

func TestAddServer_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)

	require.NoError(t, AddServer(path, Server{Name: "lab-a", Host: "10.0.0.5", Password: "${LAB_A_PW}"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentConfigVersion, cfg.Version)
	assert.Equal(t, "${LAB_A_PW}", cfg.Servers[0].Password)
}

func TestRemoveServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`version: 1
# lab machines
servers:
  - name: lab-a
    host: 10.0.0.5
  - name: lab-b
    host: 10.0.0.6
`), 0600))

	require.NoError(t, RemoveServer(path, "lab-a"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"lab-b"}, cfg.ServerNames())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# lab machines")

	err = RemoveServer(path, "lab-a")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), "No server named 'lab-a'")
}

func TestSetRemind(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`servers:
  - name: lab-a
    host: 10.0.0.5
remind:
  on_all_free: true
`), 0600))

	require.NoError(t, SetRemind(path, remind.Policy{OnHaveFree: true, EveryPoll: true}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, remind.Policy{OnHaveFree: true, EveryPoll: true}, cfg.Remind)
	assert.Len(t, cfg.Servers, 1)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)

	cfg := DefaultConfig()
	cfg.Servers = []Server{{Name: "lab-a", Host: "10.0.0.5", Port: 22, Interval: 10}}
	cfg.Remind = remind.Policy{OnAllFree: true}
	cfg.Notify.Type = NotifyLog

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
