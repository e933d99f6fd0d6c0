package cmd

import (
	"context"
)

// ClientInterface is the set of daemon lifecycle operations the CLI
// commands depend on. internal/rpc.Client implements it against a
// real daemon; tests inject a mock.
type ClientInterface interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reload(ctx context.Context) error
	Close() error
}
