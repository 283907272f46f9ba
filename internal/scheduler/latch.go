package scheduler

import (
	"context"
	"sync"
)

// Latch is a one-shot completion signal. It resolves exactly once, either
// set or failed, and can be waited on any number of times. It is never reset.
type Latch struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Set resolves the latch successfully. It reports whether this call resolved it.
func (l *Latch) Set() bool {
	return l.resolve(nil)
}

// Fail resolves the latch with err. It reports whether this call resolved it.
func (l *Latch) Fail(err error) bool {
	return l.resolve(err)
}

func (l *Latch) resolve(err error) bool {
	resolved := false
	l.once.Do(func() {
		l.err = err
		close(l.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the latch resolves.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

func (l *Latch) Resolved() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// IsSet reports whether the latch resolved successfully.
func (l *Latch) IsSet() bool {
	return l.Resolved() && l.err == nil
}

// Err returns the failure of a resolved latch.
func (l *Latch) Err() error {
	if !l.Resolved() {
		return nil
	}
	return l.err
}

// Wait blocks until the latch resolves or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
