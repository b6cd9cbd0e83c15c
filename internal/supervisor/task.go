package supervisor

import "context"

// Task represents one queued lifecycle operation. Callers may wait on
// it to learn the operation's outcome, or discard it for fire-and-forget.
type Task struct {
	done chan struct{}
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Wait blocks until the operation completes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the operation completes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the operation's result. Valid only after Done.
func (t *Task) Err() error { return t.err }
