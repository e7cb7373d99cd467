package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
)

// Exec runs a command on the remote host and returns the output.
// Exit code is -1 if the command couldn't be executed at all.
func (c *Client) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	return c.ExecContext(context.Background(), cmd)
}

// ExecContext runs a command and gives up when ctx is done, closing the
// session so the remote command is torn down with it.
//
// A command that ran but exited non-zero returns its exit code with a nil
// error; callers decide whether that is a failure.
func (c *Client) ExecContext(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, -1, contextError(err, cmd)
	}

	session, err := c.Client.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, nil, -1, contextError(ctx.Err(), cmd)
	case runErr := <-done:
		if runErr != nil {
			var exitErr *ssh.ExitError
			if stderrors.As(runErr, &exitErr) {
				return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitStatus(), nil
			}
			return nil, nil, -1, errors.WrapWithCode(runErr, errors.ErrSSH,
				fmt.Sprintf("Lost the connection while running: %s", cmd),
				"The host may have dropped the session. It will reconnect on the next poll.")
		}
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
	}
}

func contextError(err error, cmd string) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.WrapWithCode(err, errors.ErrTimeout,
			fmt.Sprintf("Timed out running: %s", cmd),
			"The host is slow to respond. Raise poll.timeout if this keeps happening.")
	}
	return errors.WrapWithCode(err, errors.ErrSSH,
		fmt.Sprintf("Cancelled while running: %s", cmd),
		"")
}
