package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

const csvHeader = "index, name, timestamp, temperature.gpu, utilization.gpu [%], utilization.memory [%], memory.total [MiB], memory.free [MiB], memory.used [MiB]\n"

// gpuCSV renders nvidia-smi output with one device per utilization value.
// Busy devices hold half of their 40960 MiB.
func gpuCSV(utils ...int) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	for i, u := range utils {
		used := 0
		if u > 0 {
			used = 20480
		}
		fmt.Fprintf(&b, "%d, NVIDIA A100, 2025/02/28 07:21:43.123, 41, %d %%, 0 %%, 40960 MiB, %d MiB, %d MiB\n",
			i, u, 40960-used, used)
	}
	return b.String()
}

type result struct {
	out string
	err error
}

type fakeSource map[string]result

func (f fakeSource) Fetch(_ context.Context, name string, _ sshutil.Target) (string, error) {
	r := f[name]
	return r.out, r.err
}

// useConfig writes content to a temp gpuview.yaml and points --config at it.
func useConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gpuview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	setConfigFlag(t, path)
	return path
}

// setConfigFlag sets --config for the duration of the test.
func setConfigFlag(t *testing.T, path string) {
	t.Helper()
	old := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = old })
}

// isolate runs the test from an empty directory with an empty home, so no
// real config is found.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(dir)
	setConfigFlag(t, "")
	return dir
}

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recordingAnnouncer captures messages and optionally fails.
type recordingAnnouncer struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (a *recordingAnnouncer) Send(_ context.Context, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return a.err
}

func (a *recordingAnnouncer) Validate(ctx context.Context) error {
	return a.Send(ctx, "test")
}

func (a *recordingAnnouncer) Messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.msgs...)
}
