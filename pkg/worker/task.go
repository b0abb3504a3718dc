package worker

import (
	"context"
	"sync"
)

// Task is the lifetime handle of one event. The host keeps the event alive
// until Wait returns.
type Task struct {
	event string
	done  chan struct{}
	once  sync.Once
	err   error
}

func newTask(event string) *Task {
	return &Task{event: event, done: make(chan struct{})}
}

// finishedTask returns a task that already completed with err.
func finishedTask(event string, err error) *Task {
	t := newTask(event)
	t.finish(err)
	return t
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Event returns the event name, e.g. "install" or "sync".
func (t *Task) Event() string {
	return t.event
}

// Done is closed when the task has settled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task result. It is nil until Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task settles and returns its result, or returns
// ctx.Err() if ctx ends first. The task keeps running in that case.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inflight counts running tasks and signals when none are left.
type inflight struct {
	mu     sync.Mutex
	n      int
	closed bool
	paused bool
	idle   chan struct{}
}

func newInflight() *inflight {
	idle := make(chan struct{})
	close(idle)
	return &inflight{idle: idle}
}

// add registers a task. It returns false once close was called or while
// paused.
func (f *inflight) add() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.paused {
		return false
	}
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
	return true
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

// pause rejects new tasks until resume.
func (f *inflight) pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *inflight) resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
}

// close rejects further tasks and reports whether it was already closed.
func (f *inflight) close() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	was := f.closed
	f.closed = true
	return was
}

// wait blocks until no task is running or ctx ends.
func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
