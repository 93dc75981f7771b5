// Package runner runs one command on one device and prints its output.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pascal71/netrun/client"
)

// ConnectFunc opens a session to the device described by d.
type ConnectFunc func(ctx context.Context, d client.Descriptor, opts ...client.Option) (client.Interface, error)

// Connect is the ConnectFunc backed by client.Connect.
func Connect(ctx context.Context, d client.Descriptor, opts ...client.Option) (client.Interface, error) {
	sess, err := client.Connect(ctx, d, opts...)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Runner executes the connect, send, print, close sequence.
type Runner struct {
	Connect ConnectFunc
	Out     io.Writer
}

// New returns a Runner that talks SSH and prints to out.
func New(out io.Writer) *Runner {
	return &Runner{Connect: Connect, Out: out}
}

// Run connects to d, sends command, writes the raw output followed by a
// newline to r.Out and closes the session. The session is closed exactly once
// whatever happens after it was opened. Nothing is written on failure.
func (r *Runner) Run(ctx context.Context, d client.Descriptor, command string, opts ...client.Option) (err error) {
	sess, err := r.Connect(ctx, d, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			slog.WarnContext(ctx, "Failed to close session", "host", d.Host, "error", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	output, err := sess.SendCommand(ctx, command)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintln(r.Out, output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	slog.InfoContext(ctx, "SSH session complete", "host", d.Host)
	return nil
}
