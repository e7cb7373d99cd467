// Package watcher polls one GPU host on a schedule and publishes what it sees.
//
// A Watcher owns at most one poll goroutine. Start cancels and waits for any
// previous goroutine before launching a new one, so a host is never polled by
// two loops at once. Readers get an immutable State through an atomic pointer.
package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coco-alen/gpu-usage-view/internal/announce"
	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/logger"
	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/monitor/parsers"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

// Source returns raw nvidia-smi CSV for a host. monitor.Collector is the
// production Source.
type Source interface {
	Fetch(ctx context.Context, name string, target sshutil.Target) (string, error)
}

// Options configures a Watcher.
type Options struct {
	Source Source
	// Announcer delivers reminders. Nil turns delivery off; the engine still
	// tracks state so turning it on later doesn't fire on stale edges.
	Announcer     announce.Announcer
	Policy        remind.Policy
	FreeThreshold float64
	// Timeout bounds each remote query and each alert delivery.
	Timeout time.Duration
	Logger  logger.Logger
	Metrics *Metrics
	// OnUpdate is called from the poll goroutine after every published State
	// change. It must not block or call Start, Stop or Refresh.
	OnUpdate func(name string, st State)
}

// Watcher polls one server.
type Watcher struct {
	server    config.Server
	source    Source
	threshold float64
	timeout   time.Duration
	log       logger.Logger
	metrics   *Metrics
	onUpdate  func(string, State)
	engine    *remind.Engine

	announcerMu sync.RWMutex
	announcer   announce.Announcer

	interval atomic.Int64
	polls    atomic.Int64
	state    atomic.Pointer[State]

	// lifecycle serializes Start, Stop and Refresh and is held while they
	// wait for a goroutine to exit. mu guards the fields below and is never
	// held across that wait, so readers don't block on a slow query.
	lifecycle sync.Mutex
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	looping   bool
}

// New creates a stopped watcher for server.
func New(server config.Server, opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = logger.Noop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultPollTimeout
	}
	if opts.FreeThreshold <= 0 {
		opts.FreeThreshold = monitor.DefaultFreeThreshold
	}

	w := &Watcher{
		server:    server,
		source:    opts.Source,
		threshold: opts.FreeThreshold,
		timeout:   opts.Timeout,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		onUpdate:  opts.OnUpdate,
		engine:    remind.NewEngine(opts.Policy),
	}

	interval := server.IntervalDuration()
	if interval <= 0 {
		interval = config.DefaultInterval * time.Second
	}
	w.interval.Store(int64(interval))
	w.announcer = opts.Announcer
	w.state.Store(idleState())
	return w
}

// Name returns the server name.
func (w *Watcher) Name() string {
	return w.server.Name
}

// Server returns the server this watcher polls.
func (w *Watcher) Server() config.Server {
	return w.server
}

// State returns the latest published state.
func (w *Watcher) State() State {
	return *w.state.Load()
}

// Interval returns the sleep between polls in looping mode.
func (w *Watcher) Interval() time.Duration {
	return time.Duration(w.interval.Load())
}

// Polls returns how many polls have completed, successful or not.
func (w *Watcher) Polls() int64 {
	return w.polls.Load()
}

// Policy returns the reminder policy.
func (w *Watcher) Policy() remind.Policy {
	return w.engine.Policy()
}

// SetPolicy replaces the reminder policy. Edge history is kept.
func (w *Watcher) SetPolicy(p remind.Policy) {
	w.engine.SetPolicy(p)
}

// SetAnnouncer replaces the alert channel. Nil turns delivery off.
func (w *Watcher) SetAnnouncer(a announce.Announcer) {
	w.announcerMu.Lock()
	defer w.announcerMu.Unlock()
	w.announcer = a
}

func (w *Watcher) currentAnnouncer() announce.Announcer {
	w.announcerMu.RLock()
	defer w.announcerMu.RUnlock()
	return w.announcer
}

// Running reports whether a poll goroutine is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runningLocked()
}

// Looping reports whether the active goroutine is a repeating one.
func (w *Watcher) Looping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runningLocked() && w.looping
}

func (w *Watcher) runningLocked() bool {
	if w.done == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Start launches a poll goroutine. With loop it polls every Interval until
// stopped; without, it polls once and stops by itself. A running goroutine is
// stopped first.
func (w *Watcher) Start(loop bool) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	w.stopLocked()
	w.startLocked(loop)
}

// Stop cancels the poll goroutine and waits for it to exit. An in-flight
// query is allowed to finish (bounded by the timeout). Stopping a stopped
// watcher does nothing.
func (w *Watcher) Stop() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if !w.stopLocked() {
		w.log.Debug("%s: stop requested but not running", w.server.Name)
	}
}

// Restart stops and starts the watcher.
func (w *Watcher) Restart(loop bool) {
	w.Start(loop)
}

// Refresh polls now, keeping the current mode: a looping watcher restarts its
// loop, anything else polls once.
func (w *Watcher) Refresh() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	loop := w.Looping()
	w.stopLocked()
	w.startLocked(loop)
}

// Wait blocks until the current poll goroutine exits or ctx is done.
// It returns at once when the watcher isn't running.
func (w *Watcher) Wait(ctx context.Context) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetInterval changes the poll interval and (re)starts in looping mode.
func (w *Watcher) SetInterval(seconds int) error {
	if err := config.ValidateInterval(seconds); err != nil {
		return err
	}
	w.interval.Store(int64(time.Duration(seconds) * time.Second))
	w.Start(true)
	return nil
}

// startLocked requires w.lifecycle.
func (w *Watcher) startLocked(loop bool) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.looping = loop
	w.mu.Unlock()

	w.log.Debug("%s: starting (loop=%t, interval=%s)", w.server.Name, loop, w.Interval())
	go w.run(ctx, loop, done)
}

// stopLocked requires w.lifecycle. It reports whether there was a goroutine
// to stop. Readers keep seeing the old goroutine as running until it exits.
func (w *Watcher) stopLocked() bool {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	wasRunning := w.runningLocked()
	w.mu.Unlock()
	if cancel == nil {
		return false
	}

	cancel()
	<-done

	w.mu.Lock()
	w.cancel = nil
	w.done = nil
	w.looping = false
	w.mu.Unlock()
	return wasRunning
}

func (w *Watcher) run(ctx context.Context, loop bool, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		w.poll(ctx)

		if !loop {
			return
		}

		timer := time.NewTimer(w.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// poll runs one fetch-parse-summarize-evaluate cycle. The query runs on a
// context that ignores cancellation so Stop never cuts a command in half.
func (w *Watcher) poll(ctx context.Context) {
	name := w.server.Name
	prev := w.State()
	w.publish(&State{
		Status:    StatusLoading,
		Message:   "Polling",
		Snapshot:  prev.Snapshot,
		Summary:   prev.Summary,
		UpdatedAt: time.Now(),
	})

	start := time.Now()
	snap, summary, err := w.collect(ctx)
	w.polls.Add(1)
	w.metrics.ObservePoll(name, snap, time.Since(start), err)

	if err != nil {
		w.log.Warn("%s: %s: %s", name, MessageFor(err), errors.Summarize(err))
		w.publish(&State{
			Status:    StatusError,
			Message:   MessageFor(err),
			Err:       err,
			UpdatedAt: time.Now(),
		})
		return
	}

	kind := w.engine.Evaluate(summary)
	var announceErr error
	if a := w.currentAnnouncer(); kind != remind.AlertNone && a != nil {
		announceErr = w.announce(ctx, a, kind)
		w.metrics.ObserveAlert(name, kind, announceErr)
	}

	w.publish(&State{
		Status:      StatusSuccess,
		Message:     "Updated",
		Snapshot:    snap,
		Summary:     &summary,
		Alert:       kind,
		AnnounceErr: announceErr,
		UpdatedAt:   snap.FetchedAt,
	})
}

func (w *Watcher) collect(ctx context.Context) (*monitor.Snapshot, monitor.Summary, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	raw, err := w.source.Fetch(fetchCtx, w.server.Name, w.server.Target())
	if err != nil {
		return nil, monitor.Summary{}, err
	}

	snap, err := parsers.ParseNvidiaSMI(raw)
	if err != nil {
		return nil, monitor.Summary{}, err
	}
	snap.FetchedAt = time.Now()

	summary, err := monitor.Summarize(snap, w.threshold)
	if err != nil {
		return nil, monitor.Summary{}, err
	}
	return snap, summary, nil
}

func (w *Watcher) announce(ctx context.Context, a announce.Announcer, kind remind.AlertKind) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	msg := kind.Message(w.server.Name)
	if err := a.Send(sendCtx, msg); err != nil {
		w.log.Error("%s: failed to send reminder: %s", w.server.Name, errors.Summarize(err))
		return err
	}
	w.log.Info("%s: reminder sent: %s", w.server.Name, msg)
	return nil
}

func (w *Watcher) publish(st *State) {
	w.state.Store(st)
	if w.onUpdate != nil {
		w.onUpdate(w.server.Name, *st)
	}
}
