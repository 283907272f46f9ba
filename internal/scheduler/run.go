package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ivlev/script2video/internal/director"
)

type Status string

const (
	Completed Status = "completed"
	Skipped   Status = "skipped"
	Failed    Status = "failed"
)

type Outcome struct {
	Unit   Unit
	Status Status
	Err    error
}

// Run is the state of one rendering run: the latch of every required unit,
// the record of what happened to each, and the dedupe group for concurrent
// requests of the same unit. A Run is used once and discarded.
type Run struct {
	ID       string
	catalog  *director.Catalog
	cameras  []director.Camera
	shots    map[int]director.Shot
	latches  map[Unit]*Latch
	priority map[int]bool

	flight   singleflight.Group
	mu       sync.Mutex
	outcomes map[Unit]Outcome
}

// NewRun prepares the latches for every frame the catalog requires.
func NewRun(id string, catalog *director.Catalog, cameras []director.Camera) (*Run, error) {
	r := &Run{
		ID:       id,
		catalog:  catalog,
		cameras:  cameras,
		shots:    make(map[int]director.Shot, len(catalog.Shots)),
		latches:  map[Unit]*Latch{},
		priority: map[int]bool{},
		outcomes: map[Unit]Outcome{},
	}

	for _, s := range catalog.Shots {
		r.shots[s.Idx] = s
		for _, kind := range s.Frames() {
			r.latches[Unit{ShotIdx: s.Idx, Kind: kind}] = NewLatch()
		}
	}

	for _, c := range cameras {
		if len(c.ActiveShotIdxs) == 0 {
			return nil, fmt.Errorf("run: camera %d has no shots", c.ID)
		}
		for _, idx := range c.ActiveShotIdxs {
			if _, ok := r.shots[idx]; !ok {
				return nil, fmt.Errorf("run: camera %d films unknown shot %d", c.ID, idx)
			}
		}
		if c.HasParent() {
			if _, ok := r.shots[*c.ParentShotIdx]; !ok {
				return nil, fmt.Errorf("run: camera %d depends on unknown shot %d", c.ID, *c.ParentShotIdx)
			}
			r.priority[*c.ParentShotIdx] = true
		}
	}
	return r, nil
}

func (r *Run) Catalog() *director.Catalog { return r.catalog }
func (r *Run) Cameras() []director.Camera { return r.cameras }
func (r *Run) Shot(idx int) director.Shot { return r.shots[idx] }

// Priority reports whether another camera depends on the shot's first frame.
func (r *Run) Priority(idx int) bool { return r.priority[idx] }

// Latch returns the latch of a unit, or nil when the unit is not required.
func (r *Run) Latch(u Unit) *Latch { return r.latches[u] }

// Units lists every required unit in shot order.
func (r *Run) Units() []Unit {
	units := make([]Unit, 0, len(r.latches))
	for u := range r.latches {
		units = append(units, u)
	}
	sortUnits(units)
	return units
}

// Await waits for a unit with a bounded wait. A wait that runs out returns
// *FrameTimeoutError; a unit that failed returns *DependencyError.
func (r *Run) Await(ctx context.Context, u Unit, timeout time.Duration) error {
	l := r.latches[u]
	if l == nil {
		return fmt.Errorf("run: %s is not part of this run", u)
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := l.Wait(waitCtx)
	switch {
	case err == nil:
		return nil
	case l.Resolved():
		return &DependencyError{Unit: u, Err: err}
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return &FrameTimeoutError{Unit: u, Timeout: timeout}
	default:
		return err
	}
}

func (r *Run) record(u Unit, status Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[u] = Outcome{Unit: u, Status: status, Err: err}
}

// Outcomes returns what happened to every unit that was attempted, in shot order.
func (r *Run) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Outcome, 0, len(r.outcomes))
	for _, o := range r.outcomes {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return unitLess(out[i].Unit, out[j].Unit) })
	return out
}

// Err joins the errors of all failed units.
func (r *Run) Err() error {
	var errs []error
	for _, o := range r.Outcomes() {
		if o.Status == Failed {
			errs = append(errs, fmt.Errorf("%s: %w", o.Unit, o.Err))
		}
	}
	return errors.Join(errs...)
}

// abandon fails every unresolved unit of a camera so no waiter outlives it.
func (r *Run) abandon(c director.Camera, cause error) {
	for _, idx := range c.ActiveShotIdxs {
		for _, kind := range r.shots[idx].Frames() {
			u := Unit{ShotIdx: idx, Kind: kind}
			err := fmt.Errorf("camera %d stopped before %s was produced", c.ID, u)
			if cause != nil {
				err = &DependencyError{Unit: Unit{ShotIdx: c.FirstShot(), Kind: director.FirstFrame}, Err: cause}
			}
			if r.latches[u].Fail(err) {
				r.record(u, Failed, err)
			}
		}
	}
}

func sortUnits(units []Unit) {
	sort.Slice(units, func(i, j int) bool { return unitLess(units[i], units[j]) })
}

func unitLess(a, b Unit) bool {
	if a.ShotIdx != b.ShotIdx {
		return a.ShotIdx < b.ShotIdx
	}
	return a.Kind < b.Kind
}
