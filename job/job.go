// Package job defines the persistent job model and the pure lifecycle
// policy applied to submissions and subscriptions before they reach the
// store.
package job

import "time"

// State is the lifecycle state of a job row.
type State string

const (
	// StateCreated is the initial state of every inserted job.
	StateCreated State = "created"
	// StateActive means the job has been claimed and is leased to a consumer.
	StateActive State = "active"
	// StateProcessing is an optional intermediate state set by consumers.
	StateProcessing State = "processing"
	// StateCompleted is terminal.
	StateCompleted State = "completed"
	// StateFailed is terminal.
	StateFailed State = "failed"
)

// Defaults applied by Normalize.
const (
	// DefaultRetryAfterSeconds is the lease duration used when a submission
	// does not specify one.
	DefaultRetryAfterSeconds = 30

	// DefaultMaxJobs is the claim batch size used when a subscription does
	// not specify one.
	DefaultMaxJobs = 100

	// DefaultHeartbeat is the polling interval used when a subscription does
	// not specify one.
	DefaultHeartbeat = 5 * time.Second
)

// Job is a claimed job as handed to a handler. Data and Attributes carry
// the payloads that were current at claim time.
type Job struct {
	ID         string
	Data       map[string]any
	Attributes map[string]any
}

// Detail is the full persisted row for a job.
type Detail struct {
	ID                string
	Topic             string
	Data              map[string]any
	Attributes        map[string]any
	State             State
	StartAfter        time.Time
	StartedAt         *time.Time
	CreatedAt         time.Time
	RetryAfterSeconds *int
}

// Handler consumes a single claimed job. Handlers run in their own
// goroutine; completion is signaled back through the queue's state
// transition operations, never inferred from the handler returning.
type Handler func(j Job)
