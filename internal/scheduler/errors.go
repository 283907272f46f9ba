package scheduler

import (
	"fmt"
	"time"

	"github.com/ivlev/script2video/internal/director"
)

// Unit is one key still of one shot: the scheduler's unit of work.
type Unit struct {
	ShotIdx int
	Kind    director.FrameKind
}

func (u Unit) String() string {
	return fmt.Sprintf("shot %d %s", u.ShotIdx, u.Kind)
}

// FrameTimeoutError reports a dependency frame that did not complete within
// the bounded wait.
type FrameTimeoutError struct {
	Unit    Unit
	Timeout time.Duration
}

func (e *FrameTimeoutError) Error() string {
	return fmt.Sprintf("frame timeout: %s not ready after %s", e.Unit, e.Timeout)
}

// DependencyError reports a unit that cannot be produced because a frame it
// depends on failed.
type DependencyError struct {
	Unit Unit
	Err  error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Unit, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}
