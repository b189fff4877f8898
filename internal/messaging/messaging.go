// Package messaging holds thin per-platform adapters that translate an
// inbound chat event into the narrow shape the batching pipeline
// accepts and hand it off, nothing else: no outbound sending, no
// reactions, no threads, no attachment downloads. Each adapter owns
// exactly one platform client connection and one goroutine translating
// its events into Sink.ReceiveMessage calls.
package messaging

import (
	"context"

	"github.com/fendari/agentrt/pkg/models"
)

// Sink accepts inbound messages pulled off a platform connection. A
// *batching.BatchingService satisfies this directly.
type Sink interface {
	ReceiveMessage(ctx context.Context, msg models.Message) error
}

// Adapter is the minimal lifecycle contract a platform connector
// exposes to whatever process wires it up.
type Adapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
