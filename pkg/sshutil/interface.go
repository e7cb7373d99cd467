package sshutil

import (
	"context"
	"io"
)

// SSHClient is what the collector needs from a connection. Both the real
// Client and testing.MockClient satisfy it.
type SSHClient interface {
	// ExecContext runs a command and returns stdout, stderr, and exit code.
	// Exit code is -1 if the command couldn't be executed at all.
	// A non-zero exit code with nil error means the command ran but failed.
	ExecContext(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error)

	// Close closes the SSH connection.
	Close() error

	// GetHost returns the host or alias used to connect.
	GetHost() string

	// GetAddress returns the resolved host:port address.
	GetAddress() string

	// NewSession opens a session; the pool uses it to check liveness.
	NewSession() (Session, error)
}

// Session is the part of ssh.Session the pool needs.
type Session interface {
	io.Closer
}

var _ SSHClient = (*Client)(nil)
