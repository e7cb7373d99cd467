package monitor

import (
	"sync"
	"time"

	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

// DialFunc opens a connection to a target. Tests swap in a mock.
type DialFunc func(target sshutil.Target, opts sshutil.Options) (sshutil.SSHClient, error)

// DialSSH is the default DialFunc.
func DialSSH(target sshutil.Target, opts sshutil.Options) (sshutil.SSHClient, error) {
	client, err := sshutil.Dial(target, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Pool keeps one SSH connection per server name alive between polls.
// Safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	connections map[string]*poolEntry
	opts        sshutil.Options
	dial        DialFunc
}

type poolEntry struct {
	client sshutil.SSHClient
	target sshutil.Target
}

// NewPool creates a pool that dials with opts. A nil dial uses DialSSH.
func NewPool(opts sshutil.Options, dial DialFunc) *Pool {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if dial == nil {
		dial = DialSSH
	}
	return &Pool{
		connections: make(map[string]*poolEntry),
		opts:        opts,
		dial:        dial,
	}
}

// Get returns the live connection for name, dialing target when there is none,
// when the old one is dead, or when the target changed. timeout caps the dial
// below the pool's default when positive.
func (p *Pool) Get(name string, target sshutil.Target, timeout time.Duration) (sshutil.SSHClient, error) {
	p.mu.Lock()
	entry, exists := p.connections[name]
	p.mu.Unlock()

	if exists {
		if entry.target == target && p.isAlive(entry.client) {
			return entry.client, nil
		}
		p.remove(name)
	}

	opts := p.opts
	if timeout > 0 && timeout < opts.Timeout {
		opts.Timeout = timeout
	}
	client, err := p.dial(target, opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if other, ok := p.connections[name]; ok && other.target == target {
		// Lost a dial race; keep the stored connection.
		_ = client.Close()
		return other.client, nil
	}
	p.connections[name] = &poolEntry{client: client, target: target}
	return client, nil
}

// Close closes all connections in the pool and clears it.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, entry := range p.connections {
		if entry.client != nil {
			_ = entry.client.Close()
		}
		delete(p.connections, name)
	}
}

// CloseOne closes and forgets the connection for name.
func (p *Pool) CloseOne(name string) {
	p.remove(name)
}

// Size returns the number of connections in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

func (p *Pool) remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.connections[name]; ok {
		if entry.client != nil {
			_ = entry.client.Close()
		}
		delete(p.connections, name)
	}
}

// isAlive opens and closes a session as a connectivity test.
func (p *Pool) isAlive(client sshutil.SSHClient) bool {
	if client == nil {
		return false
	}
	session, err := client.NewSession()
	if err != nil {
		return false
	}
	_ = session.Close()
	return true
}
