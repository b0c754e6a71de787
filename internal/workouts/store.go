package workouts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidEvent = errors.New("invalid workout event")

// StorageError is returned by every Store operation that fails, so that callers
// can tell storage failures apart from validation errors and decide whether
// to surface them.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("workout store %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Store is the per-user workout event log.
// From/To bounds in QueryByDateRange are inclusive; nil means open.
type Store interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, userID int, event Event) (*Event, error)
	QueryByDateRange(ctx context.Context, userID int, from, to *time.Time) ([]Event, error)
	BulkReplace(ctx context.Context, userID int, events []Event) error
	Reset(ctx context.Context, userID int) error
	Count(ctx context.Context, userID int) (int, error)
	Teardown()
}
