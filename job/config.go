package job

import (
	"time"

	"github.com/jobrelay/jobrelay/errors"
)

// Config describes a job submission.
type Config struct {
	// Data is the consumer-defined payload. Required.
	Data map[string]any

	// Attributes is mutable metadata merged incrementally over the job's
	// lifetime. Defaults to an empty object.
	Attributes map[string]any

	// RunAfterSeconds delays eligibility by a relative number of seconds
	// from submission time. Ignored when RunAfterDate is set.
	RunAfterSeconds int

	// RunAfterDate is an absolute eligibility instant. Takes precedence
	// over RunAfterSeconds.
	RunAfterDate time.Time

	// RetryAfterSeconds is the lease duration: how long a claimed job may
	// sit in the active state before it becomes claimable again. Nil
	// selects DefaultRetryAfterSeconds.
	RetryAfterSeconds *int
}

// Normalized is a submission with all defaults resolved, ready for the
// store.
type Normalized struct {
	Data              map[string]any
	Attributes        map[string]any
	StartAfter        time.Time
	RetryAfterSeconds int
}

// Normalize validates c and resolves defaults against now. The receiver is
// not modified. The effective start time is, in order of precedence: the
// absolute RunAfterDate, now plus RunAfterSeconds, or now.
func (c Config) Normalize(now time.Time) (Normalized, error) {
	if c.Data == nil {
		return Normalized{}, errors.NewConfigError(errors.ErrDataRequired)
	}

	n := Normalized{
		Data:              c.Data,
		Attributes:        c.Attributes,
		RetryAfterSeconds: DefaultRetryAfterSeconds,
	}
	if n.Attributes == nil {
		n.Attributes = map[string]any{}
	}

	switch {
	case !c.RunAfterDate.IsZero():
		n.StartAfter = c.RunAfterDate
	case c.RunAfterSeconds > 0:
		n.StartAfter = now.Add(time.Duration(c.RunAfterSeconds) * time.Second)
	default:
		n.StartAfter = now
	}

	if c.RetryAfterSeconds != nil && *c.RetryAfterSeconds >= 0 {
		n.RetryAfterSeconds = *c.RetryAfterSeconds
	}

	return n, nil
}

// ReceiveConfig describes a subscription to a topic.
type ReceiveConfig struct {
	// Topic names the job partition to poll. Required.
	Topic string

	// MaxJobs caps the number of jobs claimed per poll cycle. Defaults to
	// DefaultMaxJobs.
	MaxJobs int

	// Heartbeat is the polling interval. Defaults to DefaultHeartbeat.
	Heartbeat time.Duration
}

// Normalize resolves subscription defaults. The receiver is not modified.
func (c ReceiveConfig) Normalize() ReceiveConfig {
	if c.MaxJobs <= 0 {
		c.MaxJobs = DefaultMaxJobs
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	return c
}

// ValidateSubscription checks the preconditions for registering a
// subscription: a non-empty topic and a non-nil handler.
func ValidateSubscription(c ReceiveConfig, h Handler) error {
	if c.Topic == "" {
		return errors.NewSubscriptionError(c.Topic, errors.ErrMissingTopic)
	}
	if h == nil {
		return errors.NewSubscriptionError(c.Topic, errors.ErrNilHandler)
	}
	return nil
}
