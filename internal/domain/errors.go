// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested agent, task, or template does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateAgent indicates an agent with the same ID is already managed.
var ErrDuplicateAgent = errors.New("duplicate agent")

// ErrResourceExhausted indicates the pool's total resource budget cannot
// accommodate another agent.
var ErrResourceExhausted = errors.New("resource budget exhausted")

// ErrValidation indicates a request failed template or field validation.
var ErrValidation = errors.New("validation failed")

// ErrUnknownTemplate indicates the factory has no template with that name.
var ErrUnknownTemplate = errors.New("unknown template")

// ErrTimeout indicates a task or shutdown grace period was exceeded.
var ErrTimeout = errors.New("timeout")

// ErrBrokerUnavailable indicates the message broker could not be reached
// after retries were exhausted.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// ErrApprovalPending indicates agent creation is parked awaiting an
// external approval signal.
var ErrApprovalPending = errors.New("approval pending")
