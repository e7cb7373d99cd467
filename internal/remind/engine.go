// Package remind decides when a host's GPUs have become free enough to tell someone.
//
// The Engine is edge-triggered by default: it remembers the free flags of the
// previous successful poll and fires only on a busy-to-free transition. With
// Policy.EveryPoll it fires on every poll that observes the free state instead.
// The engine never delivers anything itself; callers pass the returned
// AlertKind to an announcer.
package remind

import (
	"fmt"
	"sync"

	"github.com/coco-alen/gpu-usage-view/internal/monitor"
)

// AlertKind identifies which reminder fired.
type AlertKind int

const (
	// AlertNone means no reminder should be sent.
	AlertNone AlertKind = iota
	// AlertHaveFree means at least one GPU became free.
	AlertHaveFree
	// AlertAllFree means every GPU became free.
	AlertAllFree
)

// String returns a short label for the alert kind.
func (k AlertKind) String() string {
	switch k {
	case AlertHaveFree:
		return "have-free"
	case AlertAllFree:
		return "all-free"
	default:
		return "none"
	}
}

// Message renders the reminder text for a host.
func (k AlertKind) Message(host string) string {
	switch k {
	case AlertHaveFree:
		return fmt.Sprintf("Server %s has free GPUs now", host)
	case AlertAllFree:
		return fmt.Sprintf("All GPUs on server %s are free now", host)
	default:
		return ""
	}
}

// Policy selects which transitions produce reminders.
type Policy struct {
	OnAllFree  bool `yaml:"on_all_free" mapstructure:"on_all_free"`
	OnHaveFree bool `yaml:"on_have_free" mapstructure:"on_have_free"`
	// EveryPoll fires on every poll that sees the free state, not just on the transition.
	EveryPoll bool `yaml:"every_poll" mapstructure:"every_poll"`
}

// Enabled reports whether the policy can ever fire.
func (p Policy) Enabled() bool {
	return p.OnAllFree || p.OnHaveFree
}

// Mode returns the effective reminder mode: "have-free", "all-free", or "off".
// OnHaveFree wins when both are set.
func (p Policy) Mode() string {
	switch {
	case p.OnHaveFree:
		return AlertHaveFree.String()
	case p.OnAllFree:
		return AlertAllFree.String()
	default:
		return "off"
	}
}

// state is the memory of the previous successful summary's free flags.
type state struct {
	seen     bool
	allFree  bool
	haveFree bool
}

// Engine is the reminder state machine for one host. Safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	policy Policy
	prev   state
}

// NewEngine creates an engine with the given policy and no history.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the current policy.
func (e *Engine) Policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// SetPolicy replaces the policy. History is kept, so switching policy while a
// host stays free doesn't produce a spurious edge.
func (e *Engine) SetPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

// Evaluate compares s with the previous summary and returns the reminder to
// send, if any. The previous summary is replaced by s whether or not anything
// fired. The first call never fires, even with EveryPoll set.
func (e *Engine) Evaluate(s monitor.Summary) AlertKind {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.prev
	e.prev = state{seen: true, allFree: s.AllFree, haveFree: s.HaveFree}
	if !prev.seen {
		return AlertNone
	}

	haveEdge := !prev.haveFree && s.HaveFree
	allEdge := !prev.allFree && s.AllFree

	p := e.policy
	if p.OnHaveFree && (haveEdge || (s.HaveFree && p.EveryPoll)) {
		return AlertHaveFree
	}
	if p.OnAllFree && (allEdge || (s.AllFree && p.EveryPoll)) {
		return AlertAllFree
	}
	return AlertNone
}
