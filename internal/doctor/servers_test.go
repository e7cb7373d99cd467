package doctor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

const csvHeader = "index, name, timestamp, temperature.gpu, utilization.gpu [%], utilization.memory [%], memory.total [MiB], memory.free [MiB], memory.used [MiB]\n"

// gpuRow renders one nvidia-smi device line.
func gpuRow(index, util int, usedMiB int) string {
	return fmt.Sprintf("%d, NVIDIA A100, 2025/02/28 07:21:43.123, 41, %d %%, 0 %%, 40960 MiB, %d MiB, %d MiB\n",
		index, util, 40960-usedMiB, usedMiB)
}

type fakeSource struct {
	out    string
	err    error
	target sshutil.Target
	ctxErr error
}

func (f *fakeSource) Fetch(ctx context.Context, _ string, target sshutil.Target) (string, error) {
	f.target = target
	if _, ok := ctx.Deadline(); !ok {
		f.ctxErr = fmt.Errorf("no deadline")
	}
	return f.out, f.err
}

func TestServerCheck(t *testing.T) {
	server := config.Server{Name: "lab-a", Host: "10.0.0.1", Port: 22, Username: "alice"}

	tests := []struct {
		name       string
		out        string
		err        error
		want       CheckStatus
		wantMsg    string
		wantSuggst string
	}{
		{
			name:    "free and busy devices",
			out:     csvHeader + gpuRow(0, 0, 0) + gpuRow(1, 87, 20480),
			want:    StatusPass,
			wantMsg: "lab-a: 2 GPUs (NVIDIA A100), 1 free",
		},
		{
			name:       "memory held without compute",
			out:        csvHeader + gpuRow(0, 0, 20480),
			want:       StatusWarn,
			wantMsg:    "memory held with no compute load",
			wantSuggst: "ssh alice@10.0.0.1 nvidia-smi",
		},
		{
			name:       "auth failure",
			err:        errors.New(errors.ErrAuth, "SSH authentication failed for alice@10.0.0.1", "Check the password"),
			want:       StatusFail,
			wantMsg:    "lab-a: Authentication failed (SSH authentication failed for alice@10.0.0.1)",
			wantSuggst: "Check the password",
		},
		{
			name:       "plain error",
			err:        fmt.Errorf("connection reset"),
			want:       StatusFail,
			wantMsg:    "Poll failed (connection reset)",
			wantSuggst: "Try: ssh alice@10.0.0.1 nvidia-smi",
		},
		{
			name:    "header only",
			out:     csvHeader,
			want:    StatusFail,
			wantMsg: "lab-a: ",
		},
		{
			name:    "garbage",
			out:     "NVIDIA-SMI has failed because it couldn't communicate with the NVIDIA driver",
			want:    StatusFail,
			wantMsg: "lab-a: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{out: tt.out, err: tt.err}
			check := &ServerCheck{Server: server, Source: src, Timeout: time.Second, Threshold: 1}

			result := check.Run()
			assert.Equal(t, tt.want, result.Status, result.Message)
			assert.Contains(t, result.Message, tt.wantMsg)
			if tt.wantSuggst != "" {
				assert.Contains(t, result.Suggestion, tt.wantSuggst)
			}
			assert.Equal(t, server.Target(), src.target)
			assert.NoError(t, src.ctxErr, "fetch runs under a deadline")
		})
	}
}

func TestServerCheck_Name(t *testing.T) {
	check := &ServerCheck{Server: config.Server{Name: "lab-a"}}
	assert.Equal(t, "server_lab-a", check.Name())
	assert.Equal(t, "SERVERS", check.Category())
	assert.NoError(t, check.Fix())
}

func TestServerCheck_DefaultThreshold(t *testing.T) {
	src := &fakeSource{out: csvHeader + gpuRow(0, 0, 0)}
	result := (&ServerCheck{Server: config.Server{Name: "lab-a", Host: "a"}, Source: src}).Run()
	assert.Equal(t, StatusPass, result.Status)
	assert.True(t, strings.Contains(result.Message, "1 GPU (NVIDIA A100), 1 free"), result.Message)
}

func TestSSHCommand(t *testing.T) {
	assert.Equal(t, "ssh gpu-box nvidia-smi", sshCommand(config.Server{Host: "gpu-box"}))
	assert.Equal(t, "ssh -p 2222 bob@10.0.0.2 nvidia-smi", sshCommand(config.Server{Host: "10.0.0.2", Port: 2222, Username: "bob"}))
}

func TestNewServerChecks(t *testing.T) {
	assert.Empty(t, NewServerChecks(nil, &fakeSource{}))

	cfg := config.DefaultConfig()
	cfg.Poll.Timeout = 7 * time.Second
	cfg.Poll.FreeThreshold = 5
	cfg.Servers = []config.Server{{Name: "lab-a", Host: "a"}, {Name: "lab-b", Host: "b"}}

	checks := NewServerChecks(cfg, &fakeSource{})
	require.Len(t, checks, 2)
	first := checks[0].(*ServerCheck)
	assert.Equal(t, "lab-a", first.Server.Name)
	assert.Equal(t, 7*time.Second, first.Timeout)
	assert.Equal(t, 5.0, first.Threshold)
}
