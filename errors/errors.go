// Package errors provides error types and utilities for the jobrelay library.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	ErrNotStarted   = errors.New("queue not started")
	ErrDataRequired = errors.New("job data is required as an object")
	ErrMissingTopic = errors.New("topic name cannot be empty")
	ErrNilHandler   = errors.New("handler function cannot be nil")
	ErrNotConnected = errors.New("store not connected")
)

// ConfigError represents a malformed job submission.
type ConfigError struct {
	Err error // underlying error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid job config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SubscriptionError represents an invalid receive-jobs registration.
type SubscriptionError struct {
	Topic string // topic name (may be empty)
	Err   error  // underlying error
}

func (e *SubscriptionError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("invalid subscription for topic %s: %v", e.Topic, e.Err)
	}
	return fmt.Sprintf("invalid subscription: %v", e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// StoreError represents a connectivity, constraint, or query failure in the
// relational store.
type StoreError struct {
	Op  string // operation being performed
	Err error  // underlying error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Helper functions for creating errors

// NewConfigError creates a new job config error
func NewConfigError(err error) error {
	return &ConfigError{Err: err}
}

// NewSubscriptionError creates a new subscription error
func NewSubscriptionError(topic string, err error) error {
	return &SubscriptionError{Topic: topic, Err: err}
}

// NewStoreError creates a new store error
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsConfigError reports whether err is a job config error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsSubscriptionError reports whether err is a subscription error.
func IsSubscriptionError(err error) bool {
	var se *SubscriptionError
	return errors.As(err, &se)
}

// IsStoreError reports whether err is a store error.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
