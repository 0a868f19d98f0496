// Package tasks persists resumable tasks. A task is leased to one worker
// until its timeout; heartbeats extend the lease and an expired lease makes
// the task grabbable again.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/dwn-core/pkg/canonicalize"
	"github.com/Mindburn-Labs/dwn-core/pkg/cid"
)

// ErrNotFound is returned when a task id is unknown.
var ErrNotFound = errors.New("task not found")

// ManagedResumableTask is a stored task. Timeout is absolute epoch seconds.
type ManagedResumableTask struct {
	ID         string          `json:"id"`
	Task       json.RawMessage `json:"task"`
	Timeout    int64           `json:"timeout"`
	RetryCount int             `json:"retryCount"`
}

// Store is the contract every task backend satisfies. Grab must lease
// atomically so two workers never hold the same task.
type Store interface {
	// Register stores task leased for timeoutSeconds. Registering an identical
	// payload again returns the existing task.
	Register(ctx context.Context, task json.RawMessage, timeoutSeconds int64) (*ManagedResumableTask, error)
	// Grab leases up to count tasks whose timeout has passed and increments
	// their retry counts.
	Grab(ctx context.Context, count int, timeoutSeconds int64) ([]ManagedResumableTask, error)
	Read(ctx context.Context, id string) (*ManagedResumableTask, error)
	// Extend moves the timeout to now plus timeoutSeconds. Zero releases the
	// lease immediately.
	Extend(ctx context.Context, id string, timeoutSeconds int64) error
	Delete(ctx context.Context, id string) error
}

// Clock returns the current time. Stores take one so tests can move time.
type Clock func() time.Time

// Prepare canonicalizes a task payload and derives its id.
func Prepare(task json.RawMessage) (json.RawMessage, string, error) {
	canonical, err := canonicalize.Transform(task)
	if err != nil {
		return nil, "", fmt.Errorf("tasks: invalid payload: %w", err)
	}
	id, err := cid.Compute(json.RawMessage(canonical))
	if err != nil {
		return nil, "", fmt.Errorf("tasks: id: %w", err)
	}
	return canonical, id, nil
}
