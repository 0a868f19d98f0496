// Package tasks runs side effects that must eventually complete despite
// process crashes. A task is registered in a shared store before it runs,
// kept leased by a heartbeat while it runs and deleted once it succeeds.
// Tasks left behind by a dead process are picked up by
// ResumeTasksAndWaitForCompletion.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/dwn-core/pkg/observability"
	taskstore "github.com/Mindburn-Labs/dwn-core/pkg/store/tasks"
)

// ErrUnknownHandler is returned for a task whose name has no registered
// handler.
var ErrUnknownHandler = errors.New("tasks: unknown handler")

const (
	DefaultLease     = 60 * time.Second
	DefaultBatchSize = 100
)

// Task is the payload persisted for a resumable operation.
type Task struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// NewTask encodes data as the payload of a task named name.
func NewTask(name string, data any) (Task, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Task{}, fmt.Errorf("tasks: encode %s: %w", name, err)
	}
	return Task{Name: name, Data: raw}, nil
}

// Handler executes one kind of task. Handlers must be idempotent: a task may
// run more than once if its worker dies after the work but before the
// delete commits. Dependencies live on the handler value.
type Handler interface {
	Handle(ctx context.Context, data json.RawMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, data json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, data json.RawMessage) error { return f(ctx, data) }

// Options tunes a Manager. Zero values take defaults.
type Options struct {
	Lease     time.Duration
	BatchSize int
	// Observability traces each execution when set.
	Observability *observability.Provider
}

// Manager executes tasks under a lease.
type Manager struct {
	store     taskstore.Store
	lease     time.Duration
	batchSize int
	workerID  string
	obs       *observability.Provider
	logger    *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewManager(store taskstore.Store, opts Options) *Manager {
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	workerID := uuid.New().String()
	return &Manager{
		store:     store,
		lease:     opts.Lease,
		batchSize: opts.BatchSize,
		workerID:  workerID,
		obs:       opts.Observability,
		logger:    slog.Default().With("component", "tasks", "worker_id", workerID),
		handlers:  make(map[string]Handler),
	}
}

// Register binds a handler to a task name, replacing any earlier binding.
func (m *Manager) Register(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
}

func (m *Manager) handler(name string) (Handler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	return h, nil
}

func (m *Manager) leaseSeconds() int64 {
	secs := int64(m.lease / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Run registers task and executes it. On failure the task stays registered
// and becomes grabbable once its lease expires.
func (m *Manager) Run(ctx context.Context, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("tasks: encode: %w", err)
	}
	managed, err := m.store.Register(ctx, raw, m.leaseSeconds())
	if err != nil {
		return fmt.Errorf("tasks: register %s: %w", task.Name, err)
	}
	return m.execute(ctx, managed.ID, task)
}

// execute runs the handler with a heartbeat and deletes the task on success.
func (m *Manager) execute(ctx context.Context, id string, task Task) (err error) {
	h, err := m.handler(task.Name)
	if err != nil {
		return err
	}
	if m.obs != nil {
		var done func(error)
		ctx, done = m.obs.TrackOperation(ctx, "dwn.task", observability.TaskOperation(task.Name)...)
		defer func() { done(err) }()
		observability.SetSpanAttributes(ctx, observability.AttrTaskID.String(id))
	}

	stop := m.heartbeat(ctx, id)
	defer stop()
	err = h.Handle(ctx, task.Data)
	stop()
	if err != nil {
		return fmt.Errorf("tasks: %s (%s): %w", task.Name, id, err)
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("tasks: delete %s: %w", id, err)
	}
	return nil
}

// heartbeat extends the lease every half lease until the returned stop
// function is called. stop waits for the heartbeat goroutine to exit and
// may be called more than once.
func (m *Manager) heartbeat(ctx context.Context, id string) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.lease / 2)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := m.store.Extend(hbCtx, id, m.leaseSeconds()); err != nil && hbCtx.Err() == nil {
					m.logger.WarnContext(hbCtx, "task heartbeat failed", "task_id", id, "error", err)
				}
			}
		}
	}()

	return sync.OnceFunc(func() {
		cancel()
		<-done
	})
}

// ResumeTasksAndWaitForCompletion grabs and runs expired tasks in batches
// until a grab returns nothing. Failed tasks are released for immediate
// retry. It returns early only on store failure or when ctx is done.
func (m *Manager) ResumeTasksAndWaitForCompletion(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		grabbed, err := m.store.Grab(ctx, m.batchSize, m.leaseSeconds())
		if err != nil {
			return fmt.Errorf("tasks: grab: %w", err)
		}
		if len(grabbed) == 0 {
			return nil
		}

		var failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		for _, managed := range grabbed {
			managed := managed
			g.Go(func() error {
				if err := m.resume(gctx, managed); err != nil {
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		if n := failed.Load(); n > 0 {
			m.logger.InfoContext(ctx, "retrying failed tasks", "failed", n, "batch", len(grabbed))
		}
	}
}

func (m *Manager) resume(ctx context.Context, managed taskstore.ManagedResumableTask) error {
	var task Task
	if err := json.Unmarshal(managed.Task, &task); err != nil {
		// Undecodable payloads can never succeed.
		m.logger.ErrorContext(ctx, "dropping undecodable task", "task_id", managed.ID, "error", err)
		return m.store.Delete(ctx, managed.ID)
	}

	err := m.execute(ctx, managed.ID, task)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnknownHandler) {
		// Left leased so another worker that knows the handler can take it.
		m.logger.WarnContext(ctx, "no handler for task", "task_id", managed.ID, "name", task.Name)
		return err
	}

	m.logger.WarnContext(ctx, "task failed",
		"task_id", managed.ID, "name", task.Name, "retry_count", managed.RetryCount, "error", err)
	if extErr := m.store.Extend(ctx, managed.ID, 0); extErr != nil {
		m.logger.ErrorContext(ctx, "task release failed", "task_id", managed.ID, "error", extErr)
	}
	return err
}
