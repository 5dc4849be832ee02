package domain

import (
	"errors"
	"fmt"
)

// Status is the position of an order in its lifecycle.
type Status string

const (
	StatusCreated          Status = "created"
	StatusPaymentConfirmed Status = "payment_confirmed"
	StatusProcessing       Status = "processing"
	StatusComplete         Status = "complete"
	StatusFailed           Status = "failed"
)

// ErrInvalidTransition is returned when a move is not on the lifecycle graph.
var ErrInvalidTransition = errors.New("invalid status transition")

// validNext is the whole lifecycle graph. Complete and Failed are terminal.
var validNext = map[Status]map[Status]bool{
	StatusCreated:          {StatusPaymentConfirmed: true, StatusFailed: true},
	StatusPaymentConfirmed: {StatusProcessing: true, StatusFailed: true},
	StatusProcessing:       {StatusComplete: true, StatusFailed: true},
	StatusComplete:         {},
	StatusFailed:           {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// CheckTransition is CanTransition with an error describing the rejected move.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// IsTerminal is true for statuses nothing can move out of.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// IsPending is true while the order still awaits its final outcome.
func (s Status) IsPending() bool {
	return s == StatusCreated || s == StatusPaymentConfirmed || s == StatusProcessing
}

// PendingStatuses lists every non-terminal status.
func PendingStatuses() []Status {
	return []Status{StatusCreated, StatusPaymentConfirmed, StatusProcessing}
}

// CustomerText is the coarse status shown on the customer facing page.
func (s Status) CustomerText() string {
	switch s {
	case StatusCreated, StatusPaymentConfirmed:
		return "awaiting processing"
	case StatusProcessing:
		return "in progress"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "contact support"
	default:
		return "unknown"
	}
}

// Ptr is a small helper for building OrderUpdate values.
func (s Status) Ptr() *Status {
	return &s
}
