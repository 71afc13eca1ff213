package jobrelay

import (
	"log/slog"

	"github.com/jobrelay/jobrelay/core"
)

// Option is a function that modifies queue configuration.
type Option func(*Queue)

// WithStore injects a pre-built store, bypassing the Postgres store the
// queue would otherwise construct from its Config. Used for tests and for
// alternative store implementations such as memstore.
func WithStore(st core.Store) Option {
	return func(q *Queue) {
		q.store = st
	}
}

// WithLogger sets the structured logger used by the queue and its pollers.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}
