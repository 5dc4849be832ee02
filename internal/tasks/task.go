// Package tasks hands processOrder work from the request path to the
// processing workers. Delivery is at-least-once, so the receiving side
// has to be idempotent, which ProcessOrder is.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Why a task was dispatched.
const (
	ReasonPaymentConfirmed = "payment_confirmed"
	ReasonOperator         = "operator"
	ReasonRecovery         = "recovery"
)

var (
	ErrInvalidTask = errors.New("invalid process task")
	ErrQueueFull   = errors.New("task queue is full")
	ErrQueueClosed = errors.New("task queue is closed")
)

// ProcessTask asks a worker to run ProcessOrder for one order.
type ProcessTask struct {
	ID        string    `json:"task_id"`
	OrderID   int64     `json:"order_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// NewProcessTask creates a task with a fresh id.
func NewProcessTask(orderID int64, reason string) ProcessTask {
	return ProcessTask{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}

// Encode serializes t for the wire.
func (t ProcessTask) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// DecodeProcessTask parses a wire task, rejecting unknown fields and
// tasks that don't name an order.
func DecodeProcessTask(b []byte) (ProcessTask, error) {
	var t ProcessTask
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return ProcessTask{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if t.OrderID <= 0 {
		return ProcessTask{}, fmt.Errorf("%w: order_id must be positive, got %d", ErrInvalidTask, t.OrderID)
	}
	return t, nil
}

// Dispatcher schedules a ProcessTask. A nil error means the task was
// accepted for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, t ProcessTask) error
}

// Handler runs a task on the receiving side.
type Handler func(ctx context.Context, orderID int64) error
