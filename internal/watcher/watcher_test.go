package watcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/logger"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

const csvHeader = "index, name, timestamp, temperature.gpu, utilization.gpu [%], utilization.memory [%], memory.total [MiB], memory.free [MiB], memory.used [MiB]\n"

// device is {gpu util %, memory used MiB} on a 40960 MiB card.
type device [2]int

var (
	busyGPU = device{90, 20480}
	idleGPU = device{0, 0}
)

func gpuCSV(devices ...device) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	for i, d := range devices {
		fmt.Fprintf(&b, "%d, NVIDIA A100, 2025/02/28 07:21:43.123, 40, %d %%, 0 %%, 40960 MiB, %d MiB, %d MiB\n",
			i, d[0], 40960-d[1], d[1])
	}
	return b.String()
}

type fetchResult struct {
	out string
	err error
}

// fakeSource answers fetches from a script, repeating the last entry.
type fakeSource struct {
	mu        sync.Mutex
	script    []fetchResult
	calls     int
	delay     time.Duration
	inFlight  int
	maxFlight int
	ctxErrs   []error
	started   chan struct{}
}

func newFakeSource(script ...fetchResult) *fakeSource {
	return &fakeSource{script: script, started: make(chan struct{}, 100)}
}

func (f *fakeSource) Fetch(ctx context.Context, name string, target sshutil.Target) (string, error) {
	f.mu.Lock()
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	res := f.script[i]
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	delay := f.delay
	f.mu.Unlock()

	f.started <- struct{}{}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	return res.out, res.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxFlight
}

// recordingAnnouncer captures messages and optionally fails.
type recordingAnnouncer struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (a *recordingAnnouncer) Send(_ context.Context, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, message)
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

func testServer(name string) config.Server {
	return config.Server{Name: name, Host: "10.0.0.5", Port: 22, Interval: 1}
}

func pollOnce(t *testing.T, w *Watcher) State {
	t.Helper()
	w.Start(false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))
	return w.State()
}

func TestWatcher_NewIsIdle(t *testing.T) {
	w := New(testServer("lab-a"), Options{Source: newFakeSource(fetchResult{out: gpuCSV(idleGPU)})})

	st := w.State()
	assert.Equal(t, StatusIdle, st.Status)
	assert.Nil(t, st.Snapshot)
	assert.False(t, w.Running())
	assert.False(t, w.Looping())
	assert.Equal(t, time.Second, w.Interval())
	assert.Equal(t, "lab-a", w.Name())
	assert.Equal(t, int64(0), w.Polls())
}

func TestWatcher_OneshotSuccess(t *testing.T) {
	src := newFakeSource(fetchResult{out: gpuCSV(idleGPU, busyGPU)})
	w := New(testServer("lab-a"), Options{Source: src})

	before := time.Now()
	st := pollOnce(t, w)

	assert.Equal(t, StatusSuccess, st.Status)
	require.NotNil(t, st.Snapshot)
	assert.Equal(t, 2, st.Snapshot.Len())
	assert.False(t, st.Snapshot.FetchedAt.Before(before), "watcher stamps fetch time")
	require.NotNil(t, st.Summary)
	assert.True(t, st.Summary.HaveFree)
	assert.False(t, st.Summary.AllFree)
	assert.Equal(t, remind.AlertNone, st.Alert, "first poll never alerts")
	assert.False(t, w.Running(), "oneshot stops by itself")
	assert.Equal(t, int64(1), w.Polls())
	assert.Equal(t, 1, src.Calls())
}

func TestWatcher_FailureClearsSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		result  fetchResult
		wantMsg string
	}{
		{
			name:    "auth",
			result:  fetchResult{err: errors.New(errors.ErrAuth, "Authentication failed for root@10.0.0.5", "")},
			wantMsg: "Authentication failed",
		},
		{
			name:    "timeout",
			result:  fetchResult{err: errors.New(errors.ErrTimeout, "Command timed out", "")},
			wantMsg: "Timed out",
		},
		{
			name:    "exec",
			result:  fetchResult{err: errors.New(errors.ErrExec, "nvidia-smi failed on lab-a", "")},
			wantMsg: "nvidia-smi failed",
		},
		{
			name:    "schema",
			result:  fetchResult{out: "index, name\n0, A100\n"},
			wantMsg: "Unexpected nvidia-smi columns",
		},
		{
			name:    "empty",
			result:  fetchResult{out: csvHeader},
			wantMsg: "No GPUs reported",
		},
		{
			name:    "uncoded",
			result:  fetchResult{err: fmt.Errorf("boom")},
			wantMsg: "Poll failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(fetchResult{out: gpuCSV(idleGPU)}, tt.result)
			w := New(testServer("lab-a"), Options{Source: src, Logger: logger.NewBufferLogger()})

			require.Equal(t, StatusSuccess, pollOnce(t, w).Status)

			st := pollOnce(t, w)
			assert.Equal(t, StatusError, st.Status)
			assert.Equal(t, tt.wantMsg, st.Message)
			assert.Error(t, st.Err)
			assert.NotEmpty(t, st.Detail())
			assert.Nil(t, st.Snapshot)
			assert.Nil(t, st.Summary)
			assert.Equal(t, int64(2), w.Polls())
		})
	}
}

func TestWatcher_AnnouncesOnEdge(t *testing.T) {
	src := newFakeSource(
		fetchResult{out: gpuCSV(busyGPU, busyGPU)},
		fetchResult{out: gpuCSV(busyGPU, busyGPU)},
		fetchResult{out: gpuCSV(idleGPU, busyGPU)},
		fetchResult{out: gpuCSV(idleGPU, busyGPU)},
	)
	ann := &recordingAnnouncer{}
	w := New(testServer("lab-a"), Options{
		Source:    src,
		Announcer: ann,
		Policy:    remind.Policy{OnHaveFree: true},
	})

	var alerts []remind.AlertKind
	for i := 0; i < 4; i++ {
		alerts = append(alerts, pollOnce(t, w).Alert)
	}

	assert.Equal(t, []remind.AlertKind{remind.AlertNone, remind.AlertNone, remind.AlertHaveFree, remind.AlertNone}, alerts)
	assert.Equal(t, []string{remind.AlertHaveFree.Message("lab-a")}, ann.Messages())
}

func TestWatcher_AnnounceFailureKeepsSnapshot(t *testing.T) {
	src := newFakeSource(
		fetchResult{out: gpuCSV(busyGPU)},
		fetchResult{out: gpuCSV(idleGPU)},
	)
	ann := &recordingAnnouncer{err: errors.New(errors.ErrAnnounce, "Webhook returned HTTP 500", "")}
	metrics := NewMetrics()
	w := New(testServer("lab-a"), Options{
		Source:    src,
		Announcer: ann,
		Policy:    remind.Policy{OnAllFree: true},
		Metrics:   metrics,
		Logger:    logger.NewBufferLogger(),
	})

	pollOnce(t, w)
	st := pollOnce(t, w)

	assert.Equal(t, StatusSuccess, st.Status)
	assert.NotNil(t, st.Snapshot)
	assert.Equal(t, remind.AlertAllFree, st.Alert)
	assert.True(t, errors.IsCode(st.AnnounceErr, errors.ErrAnnounce))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.announceErrors.WithLabelValues("lab-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.alerts.WithLabelValues("lab-a", "all-free")))
}

func TestWatcher_SetAnnouncerLater(t *testing.T) {
	src := newFakeSource(
		fetchResult{out: gpuCSV(busyGPU)},
		fetchResult{out: gpuCSV(idleGPU)},
	)
	w := New(testServer("lab-a"), Options{Source: src, Policy: remind.Policy{OnAllFree: true}})

	pollOnce(t, w)
	ann := &recordingAnnouncer{}
	w.SetAnnouncer(ann)
	pollOnce(t, w)

	assert.Len(t, ann.Messages(), 1)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	buf := logger.NewBufferLogger()
	w := New(testServer("lab-a"), Options{Source: newFakeSource(fetchResult{out: gpuCSV(idleGPU)}), Logger: buf})

	w.Stop()
	w.Stop()
	assert.Equal(t, StatusIdle, w.State().Status, "stop leaves status alone")
	assert.False(t, w.Running())
	assert.True(t, buf.HasLevel("debug"))

	pollOnce(t, w)
	w.Stop()
	assert.Equal(t, StatusSuccess, w.State().Status)
}

func TestWatcher_RestartLeavesOnePoller(t *testing.T) {
	src := newFakeSource(fetchResult{out: gpuCSV(idleGPU)})
	src.delay = 20 * time.Millisecond
	w := New(testServer("lab-a"), Options{Source: src})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Restart(true)
		}()
	}
	wg.Wait()

	assert.True(t, w.Running())
	assert.True(t, w.Looping())

	w.Stop()
	assert.False(t, w.Running())
	assert.Equal(t, 1, src.MaxConcurrent(), "never two fetches at once")
}

func TestWatcher_RestartKeepsOnePollRate(t *testing.T) {
	const interval = 20 * time.Millisecond
	src := newFakeSource(fetchResult{out: gpuCSV(idleGPU)})
	w := New(config.Server{Name: "lab-a", Host: "h", Interval: 1}, Options{Source: src})
	w.interval.Store(int64(interval))

	w.Start(true)
	for i := 0; i < 3; i++ {
		<-src.started
		w.Restart(true)
	}
	<-src.started

	before := w.Polls()
	time.Sleep(10 * interval)
	after := w.Polls()
	w.Stop()

	polls := after - before
	assert.GreaterOrEqual(t, polls, int64(3), "still polling after restarts")
	assert.LessOrEqual(t, polls, int64(12), "ten intervals hold at most one loop's polls")
}

func TestWatcher_ReadersDontWaitForStop(t *testing.T) {
	src := newFakeSource(fetchResult{out: gpuCSV(idleGPU)})
	src.delay = 500 * time.Millisecond
	w := New(config.Server{Name: "lab-a", Host: "h", Interval: 60}, Options{Source: src})

	w.Start(true)
	<-src.started

	refreshed := make(chan struct{})
	go func() {
		w.Refresh()
		close(refreshed)
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	assert.True(t, w.Looping(), "old loop still finishing its query")
	assert.True(t, w.Running())
	assert.Equal(t, StatusLoading, w.State().Status)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "readers return while Refresh waits")

	select {
	case <-refreshed:
		t.Fatal("Refresh returned before the in-flight query finished")
	default:
	}

	<-refreshed
	assert.True(t, w.Looping())
	<-src.started
	w.Stop()
	assert.Equal(t, 1, src.MaxConcurrent())
}

func TestWatcher_StopLetsInFlightFetchFinish(t *testing.T) {
	src := newFakeSource(fetchResult{out: gpuCSV(idleGPU)})
	src.delay = 50 * time.Millisecond
	w := New(testServer("lab-a"), Options{Source: src})

	w.Start(true)
	<-src.started
	w.Stop()

	assert.Equal(t, StatusSuccess, w.State().Status)
	src.mu.Lock()
	defer src.mu.Unlock()
	require.Len(t, src.ctxErrs, 1)
	assert.NoError(t, src.ctxErrs[0], "stop doesn't cancel the query")
}

func TestWatcher_LoopPollsRepeatedly(t *testing.T) {
	src := newFakeSource(fetchResult{out: gpuCSV(idleGPU)})
	w := New(config.Server{Name: "lab-a", Host: "h", Interval: 1}, Options{Source: src})
	w.interval.Store(int64(10 * time.Millisecond))

	w.Start(true)
	require.Eventually(t, func() bool { return w.Polls() >= 3 }, 5*time.Second, 5*time.Millisecond)
	w.Stop()

	polls := w.Polls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, polls, w.Polls(), "no polls after stop")
}

func TestWatcher_SetInterval(t *testing.T) {
	w := New(testServer("lab-a"), Options{Source: newFakeSource(fetchResult{out: gpuCSV(idleGPU)})})

	err := w.SetInterval(0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.False(t, w.Running(), "invalid interval doesn't start")
	assert.Equal(t, time.Second, w.Interval())

	require.NoError(t, w.SetInterval(30))
	assert.Equal(t, 30*time.Second, w.Interval())
	assert.True(t, w.Looping())
	w.Stop()
}

func TestWatcher_RefreshKeepsMode(t *testing.T) {
	src := newFakeSource(fetchResult{out: gpuCSV(idleGPU)})
	w := New(config.Server{Name: "lab-a", Host: "h", Interval: 60}, Options{Source: src})

	w.Start(true)
	<-src.started
	w.Refresh()
	assert.True(t, w.Looping(), "looping watcher keeps looping")
	<-src.started
	w.Stop()

	w.Refresh()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))
	assert.False(t, w.Running(), "stopped watcher polls once")
	assert.Equal(t, 3, src.Calls())
}

func TestWatcher_OnUpdate(t *testing.T) {
	var mu sync.Mutex
	var seen []Status
	w := New(testServer("lab-a"), Options{
		Source: newFakeSource(fetchResult{out: gpuCSV(idleGPU)}),
		OnUpdate: func(name string, st State) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, st.Status)
		},
	})

	pollOnce(t, w)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusLoading, StatusSuccess}, seen)
}

func TestWatcher_PolicyAccessors(t *testing.T) {
	w := New(testServer("lab-a"), Options{Source: newFakeSource(fetchResult{out: gpuCSV(idleGPU)})})
	assert.False(t, w.Policy().Enabled())

	w.SetPolicy(remind.Policy{OnAllFree: true, EveryPoll: true})
	assert.Equal(t, remind.Policy{OnAllFree: true, EveryPoll: true}, w.Policy())
}

func TestMessageFor(t *testing.T) {
	assert.Equal(t, "Connection failed", MessageFor(errors.New(errors.ErrSSH, "x", "")))
	assert.Equal(t, "Unreadable nvidia-smi output", MessageFor(errors.New(errors.ErrMalformed, "x", "")))
	assert.Equal(t, "Poll failed", MessageFor(fmt.Errorf("x")))
}
