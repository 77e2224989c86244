// SPDX-License-Identifier: MIT

// Package jobs runs long operations (scans, discovery passes, rebuilds) as
// tracked tasks: uuid ids, progress streaming, cooperative cancellation, and
// a persisted state file so finished work survives restarts.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/log"
	"github.com/airwavehq/airwave/internal/metrics"
)

// State is a task lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Progress is one unit-of-work update. Total is -1 when unknown.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// Task is the externally visible snapshot of one job.
type Task struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	State      State      `json:"state"`
	Progress   Progress   `json:"progress"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Fn is the body of a task. It must return promptly once ctx is cancelled
// and report progress between units of work.
type Fn func(ctx context.Context, report func(Progress)) error

// publishHz caps how often subscribers see intermediate progress.
const publishHz = 2

type task struct {
	snapshot    Task
	cancel      context.CancelFunc
	subscribers map[chan Task]struct{}
	limiter     *rate.Limiter
}

// Controller owns all tasks of the process.
type Controller struct {
	mu        sync.Mutex
	tasks     map[string]*task
	statePath string
	logger    zerolog.Logger
	wg        sync.WaitGroup
	closed    bool
}

// NewController builds a controller. statePath, if non-empty, is the JSON
// file task snapshots persist to; prior state is loaded and any task that
// was mid-flight when the process died is marked failed.
func NewController(statePath string) (*Controller, error) {
	c := &Controller{
		tasks:     make(map[string]*task),
		statePath: statePath,
		logger:    log.WithComponent("jobs"),
	}
	if statePath != "" {
		if err := c.loadState(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Run starts fn as a new task and returns its id. At most one non-terminal
// task per kind exists at a time.
func (c *Controller) Run(ctx context.Context, kind string, fn Fn) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: controller shut down", library.ErrCancelled)
	}
	for _, t := range c.tasks {
		if t.snapshot.Kind == kind && !t.snapshot.State.Terminal() {
			id := t.snapshot.ID
			c.mu.Unlock()
			return "", fmt.Errorf("%w: %s task %s already running", library.ErrConflict, kind, id)
		}
	}

	id := uuid.NewString()
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{
		snapshot: Task{
			ID:        id,
			Kind:      kind,
			State:     StateRunning,
			Progress:  Progress{Total: -1},
			StartedAt: time.Now().UTC(),
		},
		cancel:      cancel,
		subscribers: make(map[chan Task]struct{}),
		limiter:     rate.NewLimiter(publishHz, 1),
	}
	c.tasks[id] = t
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info().Str("event", "job.started").Str("task_id", id).Str("kind", kind).Msg("task started")

	go func() {
		defer c.wg.Done()
		defer cancel()
		err := fn(taskCtx, func(p Progress) { c.report(id, p) })
		c.finish(id, taskCtx, err)
	}()
	return id, nil
}

// report updates a task's progress and fans it out, rate-limited so a tight
// loop cannot flood subscribers.
func (c *Controller) report(id string, p Progress) {
	c.mu.Lock()
	t, ok := c.tasks[id]
	if !ok || t.snapshot.State.Terminal() {
		c.mu.Unlock()
		return
	}
	t.snapshot.Progress = p
	if !t.limiter.Allow() {
		c.mu.Unlock()
		return
	}
	// Sends stay under the lock: a Subscribe stop closes its channel under
	// the same lock, so a close can never interleave with a send. Sends
	// never block, so holding the lock here is cheap.
	fanOut(t.subscribers, t.snapshot)
	c.mu.Unlock()
}

func (c *Controller) finish(id string, taskCtx context.Context, err error) {
	c.mu.Lock()
	t, ok := c.tasks[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	t.snapshot.FinishedAt = &now
	switch {
	case err == nil:
		t.snapshot.State = StateCompleted
	case taskCtx.Err() != nil:
		t.snapshot.State = StateCancelled
	default:
		t.snapshot.State = StateFailed
		t.snapshot.Error = err.Error()
	}
	snap := t.snapshot
	// Terminal snapshot closes every subscription. Send and close happen
	// under the lock, mirroring report and Subscribe's stop.
	for ch := range t.subscribers {
		select {
		case ch <- snap:
		default:
		}
		close(ch)
	}
	t.subscribers = make(map[chan Task]struct{})
	c.mu.Unlock()

	// The rematch kind carries the raw artist after the colon; only the
	// base kind may reach the metric label.
	baseKind, _, _ := strings.Cut(snap.Kind, ":")
	metrics.TasksTotal.WithLabelValues(baseKind, string(snap.State)).Inc()

	evt := c.logger.Info()
	if snap.State == StateFailed {
		evt = c.logger.Error()
	}
	evt.Str("event", "job.finished").Str("task_id", id).
		Str("kind", snap.Kind).Str("state", string(snap.State)).
		Str("error", snap.Error).Msg("task finished")

	if persistErr := c.persist(); persistErr != nil {
		c.logger.Warn().Str("event", "job.persist.failed").Err(persistErr).Msg("state file not written")
	}
}

// Status returns the snapshot of one task.
func (c *Controller) Status(id string) (Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", library.ErrNotFound, id)
	}
	return t.snapshot, nil
}

// List returns all known task snapshots, newest first.
func (c *Controller) List() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t.snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel requests cooperative cancellation. The task transitions to
// cancelled once its Fn observes the context and returns.
func (c *Controller) Cancel(id string) error {
	c.mu.Lock()
	t, ok := c.tasks[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: task %s", library.ErrNotFound, id)
	}
	if t.snapshot.State.Terminal() {
		c.mu.Unlock()
		return fmt.Errorf("%w: task %s already %s", library.ErrConflict, id, t.snapshot.State)
	}
	cancel := t.cancel
	c.mu.Unlock()
	cancel()
	return nil
}

// Subscribe streams task snapshots. The current state is delivered first;
// the channel closes after the terminal snapshot. The returned stop func
// releases the subscription early.
func (c *Controller) Subscribe(id string) (<-chan Task, func(), error) {
	c.mu.Lock()
	t, ok := c.tasks[id]
	if !ok {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: task %s", library.ErrNotFound, id)
	}

	ch := make(chan Task, 16)
	ch <- t.snapshot
	if t.snapshot.State.Terminal() {
		close(ch)
		c.mu.Unlock()
		return ch, func() {}, nil
	}
	t.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	stop := func() {
		c.mu.Lock()
		if _, still := t.subscribers[ch]; still {
			delete(t.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, stop, nil
}

// Close cancels every running task and waits for them to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	for _, t := range c.tasks {
		if !t.snapshot.State.Terminal() {
			t.cancel()
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// fanOut delivers without blocking: a full subscriber misses intermediate
// snapshots but always receives the terminal one. The caller holds c.mu.
func fanOut(subs map[chan Task]struct{}, snap Task) {
	for ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// persist writes all snapshots atomically.
func (c *Controller) persist() error {
	if c.statePath == "" {
		return nil
	}
	c.mu.Lock()
	snapshots := make([]Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		snapshots = append(snapshots, t.snapshot)
	}
	c.mu.Unlock()

	raw, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(c.statePath, raw, 0o644)
}

// loadState restores snapshots from the state file. Tasks persisted as
// running were interrupted by a crash and come back failed.
func (c *Controller) loadState() error {
	raw, err := os.ReadFile(c.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var snapshots []Task
	if err := json.Unmarshal(raw, &snapshots); err != nil {
		return fmt.Errorf("%w: task state file: %v", library.ErrCorrupt, err)
	}
	for _, snap := range snapshots {
		if !snap.State.Terminal() {
			snap.State = StateFailed
			snap.Error = "interrupted by shutdown"
		}
		c.tasks[snap.ID] = &task{
			snapshot:    snap,
			cancel:      func() {},
			subscribers: make(map[chan Task]struct{}),
			limiter:     rate.NewLimiter(publishHz, 1),
		}
	}
	return nil
}
