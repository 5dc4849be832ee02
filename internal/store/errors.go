package store

import "errors"

// These sentinel errors exist for full model encapsulation, so the upper layers aren't concerned with the
// underlying datastore or reliant on storage specific errors (like sql.ErrNoRows).

var (
	// ErrNotFound to be returned when no matching record has been found in the database.
	// It's value is "no such record exists".
	ErrNotFound = errors.New("no such record exists")
	// ErrAlreadyExists is to be returned when a unique key (payment reference,
	// initiation reference) is already owned by another order.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrStatusConflict is returned by a guarded update when the stored
	// status no longer matches the expected one. Nothing was written.
	ErrStatusConflict = errors.New("order status changed concurrently")

	// ErrConnectionFailed marks failures worth retrying once the database is back.
	ErrConnectionFailed = errors.New("connection to the database failed")
)
