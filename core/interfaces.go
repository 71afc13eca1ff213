// Package core contains the polling scheduler and the store contract it
// drives. The facade in the root package wires one Poller per topic to a
// single shared Store.
package core

import (
	"context"
	"time"

	"github.com/jobrelay/jobrelay/job"
)

// Store defines what core needs from the relational job store. All
// operations are atomic single statements; ClaimBatch in particular must
// guarantee that no two concurrent callers receive the same row.
type Store interface {
	// Connection management
	Start(ctx context.Context) error
	Stop()
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error

	// Job lifecycle
	Insert(ctx context.Context, topic string, n job.Normalized) (string, error)
	ClaimBatch(ctx context.Context, topic string, limit int) ([]job.Job, error)
	ChangeState(ctx context.Context, id string, state job.State) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)

	// Targeted mutators
	MergeAttributes(ctx context.Context, id string, patch map[string]any) (bool, error)
	SetRetryAfterSeconds(ctx context.Context, id string, seconds int) (bool, error)
	SetStartAfter(ctx context.Context, id string, at time.Time) (bool, error)

	// Introspection
	GetDetails(ctx context.Context, id string) (*job.Detail, error)
}

// ErrorFunc receives errors surfaced by a poller. It must not block.
type ErrorFunc func(err error)
