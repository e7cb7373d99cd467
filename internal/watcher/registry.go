package watcher

import (
	"context"
	"sync/atomic"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/coco-alen/gpu-usage-view/internal/announce"
	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/logger"
	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Source overrides the SSH collector, for tests.
	Source    Source
	Announcer announce.Announcer
	Metrics   *Metrics
	Logger    logger.Logger
	OnUpdate  func(name string, st State)
}

// Registry owns one Watcher per configured server, in config order.
type Registry struct {
	watchers  []*Watcher
	byName    map[string]*Watcher
	collector *monitor.Collector
	announcer announce.Announcer
	metrics   *Metrics
	log       logger.Logger

	announcerOK atomic.Bool
}

// NewRegistry creates stopped watchers for every server in cfg. Without a
// Source it polls over SSH with a shared connection pool.
func NewRegistry(cfg *config.Config, opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = logger.Noop()
	}

	r := &Registry{
		byName:    make(map[string]*Watcher, len(cfg.Servers)),
		announcer: opts.Announcer,
		metrics:   opts.Metrics,
		log:       opts.Logger,
	}

	source := opts.Source
	if source == nil {
		r.collector = monitor.NewCollector(monitor.NewPool(cfg.DialOptions(), nil), opts.Logger)
		source = r.collector
	}

	for _, s := range cfg.Servers {
		w := New(s, Options{
			Source:        source,
			Announcer:     opts.Announcer,
			Policy:        cfg.Remind,
			FreeThreshold: cfg.Poll.FreeThreshold,
			Timeout:       cfg.Poll.Timeout,
			Logger:        opts.Logger,
			Metrics:       opts.Metrics,
			OnUpdate:      opts.OnUpdate,
		})
		r.watchers = append(r.watchers, w)
		r.byName[s.Name] = w
	}
	return r
}

// Names returns server names in config order.
func (r *Registry) Names() []string {
	return lo.Map(r.watchers, func(w *Watcher, _ int) string { return w.Name() })
}

// Watchers returns the watchers in config order.
func (r *Registry) Watchers() []*Watcher {
	return append([]*Watcher(nil), r.watchers...)
}

// Get returns the watcher for name.
func (r *Registry) Get(name string) (*Watcher, bool) {
	w, ok := r.byName[name]
	return w, ok
}

// Len returns the number of watchers.
func (r *Registry) Len() int {
	return len(r.watchers)
}

// Metrics returns the metrics sink, or nil.
func (r *Registry) Metrics() *Metrics {
	return r.metrics
}

// StartAll starts every watcher.
func (r *Registry) StartAll(loop bool) {
	r.each(func(w *Watcher) { w.Start(loop) })
}

// StopAll stops every watcher and waits for their goroutines.
func (r *Registry) StopAll() {
	r.each(func(w *Watcher) { w.Stop() })
}

// RefreshAll polls every server now, each keeping its looping mode.
func (r *Registry) RefreshAll() {
	r.each(func(w *Watcher) { w.Refresh() })
}

// PollOnce polls every server once and waits for all of them. Poll failures
// are reported through each watcher's State; the error is only ctx's.
func (r *Registry) PollOnce(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range r.watchers {
		g.Go(func() error {
			w.Start(false)
			return w.Wait(gctx)
		})
	}
	return g.Wait()
}

// SetPolicy applies a reminder policy to every watcher.
func (r *Registry) SetPolicy(p remind.Policy) {
	for _, w := range r.watchers {
		w.SetPolicy(p)
	}
}

// Failed returns the names of servers whose last poll failed.
func (r *Registry) Failed() []string {
	failed := lo.Filter(r.watchers, func(w *Watcher, _ int) bool {
		return w.State().Status == StatusError
	})
	return lo.Map(failed, func(w *Watcher, _ int) string { return w.Name() })
}

// AnnouncerAvailable reports whether the alert channel passed ValidateAnnouncer.
func (r *Registry) AnnouncerAvailable() bool {
	return r.announcerOK.Load()
}

// ValidateAnnouncer sends a test message and remembers the outcome.
func (r *Registry) ValidateAnnouncer(ctx context.Context) error {
	if r.announcer == nil {
		r.announcerOK.Store(false)
		return errors.New(errors.ErrConfig,
			"Notifications are turned off",
			"Set notify.type to log, webhook or email")
	}
	err := r.announcer.Validate(ctx)
	r.announcerOK.Store(err == nil)
	if err != nil {
		r.log.Warn("alert channel check failed: %s", errors.Summarize(err))
	}
	return err
}

// Close stops every watcher and closes pooled connections.
func (r *Registry) Close() {
	r.StopAll()
	if r.collector != nil {
		r.collector.Close()
	}
}

// each runs fn on every watcher in parallel and waits. Stopping a watcher
// can block on an in-flight query, so serial calls would add up.
func (r *Registry) each(fn func(w *Watcher)) {
	var g errgroup.Group
	for _, w := range r.watchers {
		g.Go(func() error {
			fn(w)
			return nil
		})
	}
	_ = g.Wait()
}
