// Package task runs long operations on a bounded worker pool and keeps
// a pollable in-memory registry of their progress. Task state does not
// survive a restart; only the durable stores do.
package task

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Task statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrQueueFull is returned when the task queue cannot accept more work.
var ErrQueueFull = errors.New("task queue is full")

// Func is the body of a background task. It reports progress through
// the handed Task and returns an optional result payload.
type Func func(t *Task) (interface{}, error)

// Task is one unit of background work. All state access goes through
// the mutex so multiple observers can poll while the body runs.
type Task struct {
	ID   string
	Name string

	mu       sync.RWMutex
	status   string
	progress int
	total    int
	message  string
	result   interface{}
	errMsg   string
}

// Snapshot is the poll response for one task.
type Snapshot struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Status   string      `json:"status"`
	Progress int         `json:"progress"`
	Total    int         `json:"total"`
	Message  string      `json:"message,omitempty"`
	Result   interface{} `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// SetTotal sets the expected number of units of work.
func (t *Task) SetTotal(total int) {
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

// Advance increments progress. Progress never decreases.
func (t *Task) Advance(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.progress += n
	t.mu.Unlock()
}

// SetMessage updates the human-readable status line.
func (t *Task) SetMessage(msg string) {
	t.mu.Lock()
	t.message = msg
	t.mu.Unlock()
}

// Snapshot returns a consistent copy of the task state.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:       t.ID,
		Name:     t.Name,
		Status:   t.status,
		Progress: t.progress,
		Total:    t.total,
		Message:  t.message,
		Result:   t.result,
		Error:    t.errMsg,
	}
}

func (t *Task) setStatus(status string) {
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()
}

func (t *Task) finish(result interface{}, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.status = StatusFailed
		t.errMsg = err.Error()
		return
	}
	t.status = StatusCompleted
	t.result = result
}

type queued struct {
	task *Task
	fn   Func
}

// Manager owns the worker pool and the task registry.
type Manager struct {
	logger *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*Task

	queue    chan queued
	workers  int
	wg       sync.WaitGroup
	stopOnce sync.Once

	// onDone, when set, is called after a task finishes. Used for
	// operator notifications.
	onDone func(Snapshot)
}

func NewManager(workers, queueSize int, logger *zap.Logger) *Manager {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Manager{
		logger:  logger,
		tasks:   make(map[string]*Task),
		queue:   make(chan queued, queueSize),
		workers: workers,
	}
}

// OnDone registers a completion callback. Must be called before Start.
func (m *Manager) OnDone(fn func(Snapshot)) {
	m.onDone = fn
}

// Start launches the worker pool.
func (m *Manager) Start() {
	m.logger.Info("Task manager started", zap.Int("workers", m.workers))
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop closes the queue and waits for in-flight tasks to finish.
// Abandoned tasks are safe: every image mutation is atomic on its own.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.queue)
	})
	m.wg.Wait()
	m.logger.Info("Task manager stopped")
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for q := range m.queue {
		q.task.setStatus(StatusRunning)
		result, err := q.fn(q.task)
		q.task.finish(result, err)
		if err != nil {
			m.logger.Error("Background task failed",
				zap.String("task_id", q.task.ID),
				zap.String("name", q.task.Name),
				zap.Error(err))
		} else {
			m.logger.Info("Background task completed",
				zap.String("task_id", q.task.ID),
				zap.String("name", q.task.Name))
		}
		if m.onDone != nil {
			m.onDone(q.task.Snapshot())
		}
	}
}

// Submit enqueues a task and returns its handle immediately.
func (m *Manager) Submit(name string, fn Func) (*Task, error) {
	t := &Task{
		ID:     uuid.NewString(),
		Name:   name,
		status: StatusPending,
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	select {
	case m.queue <- queued{task: t, fn: fn}:
		return t, nil
	default:
		m.mu.Lock()
		delete(m.tasks, t.ID)
		m.mu.Unlock()
		return nil, ErrQueueFull
	}
}

// Get returns a snapshot of the task with the given handle.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.RLock()
	t, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.Snapshot(), true
}
