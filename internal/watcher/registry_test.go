package watcher

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

// hostSource answers per server name.
type hostSource map[string]fetchResult

func (h hostSource) Fetch(_ context.Context, name string, _ sshutil.Target) (string, error) {
	res := h[name]
	return res.out, res.err
}

func testConfig(names ...string) *config.Config {
	cfg := config.DefaultConfig()
	for _, n := range names {
		cfg.Servers = append(cfg.Servers, testServer(n))
	}
	cfg.Remind = remind.Policy{OnHaveFree: true}
	return cfg
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(testConfig("lab-a", "lab-b", "lab-c"), RegistryOptions{Source: hostSource{}})

	assert.Equal(t, []string{"lab-a", "lab-b", "lab-c"}, r.Names())
	assert.Equal(t, 3, r.Len())

	w, ok := r.Get("lab-b")
	require.True(t, ok)
	assert.Equal(t, "lab-b", w.Name())
	assert.Equal(t, remind.Policy{OnHaveFree: true}, w.Policy())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_PollOnce(t *testing.T) {
	src := hostSource{
		"lab-a": {out: gpuCSV(idleGPU)},
		"lab-b": {err: errors.New(errors.ErrSSH, "connection refused", "")},
	}
	metrics := NewMetrics()
	r := NewRegistry(testConfig("lab-a", "lab-b"), RegistryOptions{Source: src, Metrics: metrics})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.PollOnce(ctx))

	a, _ := r.Get("lab-a")
	b, _ := r.Get("lab-b")
	assert.Equal(t, StatusSuccess, a.State().Status)
	assert.Equal(t, StatusError, b.State().Status)
	assert.Equal(t, []string{"lab-b"}, r.Failed())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.up.WithLabelValues("lab-a")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.up.WithLabelValues("lab-b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.polls.WithLabelValues("lab-b", errors.ErrSSH)))
}

func TestRegistry_StartStopRefreshAll(t *testing.T) {
	src := hostSource{
		"lab-a": {out: gpuCSV(idleGPU)},
		"lab-b": {out: gpuCSV(busyGPU)},
	}
	r := NewRegistry(testConfig("lab-a", "lab-b"), RegistryOptions{Source: src})
	defer r.Close()

	r.StartAll(true)
	for _, w := range r.Watchers() {
		assert.True(t, w.Looping())
	}

	r.RefreshAll()
	for _, w := range r.Watchers() {
		assert.True(t, w.Looping(), "%s keeps looping after refresh", w.Name())
	}

	r.StopAll()
	for _, w := range r.Watchers() {
		assert.False(t, w.Running())
	}
}

func TestRegistry_SetPolicy(t *testing.T) {
	r := NewRegistry(testConfig("lab-a", "lab-b"), RegistryOptions{Source: hostSource{}})

	r.SetPolicy(remind.Policy{OnAllFree: true, EveryPoll: true})
	for _, w := range r.Watchers() {
		assert.Equal(t, remind.Policy{OnAllFree: true, EveryPoll: true}, w.Policy())
	}
}

func TestRegistry_ValidateAnnouncer(t *testing.T) {
	t.Run("no announcer", func(t *testing.T) {
		r := NewRegistry(testConfig("lab-a"), RegistryOptions{Source: hostSource{}})
		err := r.ValidateAnnouncer(context.Background())
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
		assert.False(t, r.AnnouncerAvailable())
	})

	t.Run("working", func(t *testing.T) {
		ann := &recordingAnnouncer{}
		r := NewRegistry(testConfig("lab-a"), RegistryOptions{Source: hostSource{}, Announcer: ann})
		require.NoError(t, r.ValidateAnnouncer(context.Background()))
		assert.True(t, r.AnnouncerAvailable())
		assert.Len(t, ann.Messages(), 1)
	})

	t.Run("failing", func(t *testing.T) {
		ann := &recordingAnnouncer{err: errors.New(errors.ErrAnnounce, "nope", "")}
		r := NewRegistry(testConfig("lab-a"), RegistryOptions{Source: hostSource{}, Announcer: ann})
		assert.Error(t, r.ValidateAnnouncer(context.Background()))
		assert.False(t, r.AnnouncerAvailable())
	})
}

func TestRegistry_DefaultSourceIsCollector(t *testing.T) {
	r := NewRegistry(testConfig("lab-a"), RegistryOptions{})
	require.NotNil(t, r.collector)
	r.Close()
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	snapSrc := hostSource{"lab-a": {out: gpuCSV(idleGPU, busyGPU)}}
	r := NewRegistry(testConfig("lab-a"), RegistryOptions{Source: snapSrc, Metrics: m})
	require.NoError(t, r.PollOnce(context.Background()))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `gpuview_gpu_utilization_percent{gpu="1",name="NVIDIA A100",server="lab-a"} 90`)
	assert.Contains(t, text, `gpuview_server_up{server="lab-a"} 1`)
	assert.True(t, strings.Contains(text, "gpuview_poll_duration_seconds_bucket"))

}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.ObservePoll("lab-a", nil, time.Second, nil)
	m.ObserveAlert("lab-a", remind.AlertAllFree, nil)
}
