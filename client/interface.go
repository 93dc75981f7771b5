package client

import (
	"context"
)

// Interface defines the minimal contract of an open session, for mocking.
type Interface interface {
	SendCommand(ctx context.Context, command string) (string, error)
	Close() error
}

var _ Interface = (*Session)(nil)
