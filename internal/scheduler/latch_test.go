package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/script2video/internal/director"
)

func TestLatchResolvesOnce(t *testing.T) {
	l := NewLatch()
	assert.False(t, l.Resolved())

	assert.True(t, l.Set())
	assert.False(t, l.Set())
	assert.False(t, l.Fail(errors.New("late")))

	assert.True(t, l.IsSet())
	assert.NoError(t, l.Err())
	assert.NoError(t, l.Wait(context.Background()))
}

func TestLatchFailure(t *testing.T) {
	l := NewLatch()
	boom := errors.New("boom")
	require.True(t, l.Fail(boom))
	assert.False(t, l.Set())

	assert.True(t, l.Resolved())
	assert.False(t, l.IsSet())
	assert.ErrorIs(t, l.Wait(context.Background()), boom)
}

func TestLatchWaitHonoursContext(t *testing.T) {
	l := NewLatch()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func testRun(t *testing.T) *Run {
	t.Helper()
	cat := &director.Catalog{Shots: []director.Shot{
		{Idx: 0, CameraID: 0, VariationType: director.VariationMedium},
		{Idx: 1, CameraID: 0},
	}}
	run, err := NewRun("test", cat, director.GroupCameras(cat.Shots))
	require.NoError(t, err)
	return run
}

func TestNewRunCreatesLatchesForRequiredFrames(t *testing.T) {
	run := testRun(t)
	assert.Equal(t, []Unit{
		{ShotIdx: 0, Kind: director.FirstFrame},
		{ShotIdx: 0, Kind: director.LastFrame},
		{ShotIdx: 1, Kind: director.FirstFrame},
	}, run.Units())
	assert.Nil(t, run.Latch(Unit{ShotIdx: 1, Kind: director.LastFrame}))
}

func TestNewRunRejectsUnknownShots(t *testing.T) {
	cat := &director.Catalog{Shots: []director.Shot{{Idx: 0}}}
	_, err := NewRun("test", cat, []director.Camera{{ID: 0, ActiveShotIdxs: []int{0, 7}}})
	assert.Error(t, err)
}

func TestAwaitTimeout(t *testing.T) {
	run := testRun(t)
	u := Unit{ShotIdx: 0, Kind: director.FirstFrame}

	err := run.Await(context.Background(), u, 20*time.Millisecond)
	var timeout *FrameTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, u, timeout.Unit)
}

func TestAwaitFailedDependency(t *testing.T) {
	run := testRun(t)
	u := Unit{ShotIdx: 0, Kind: director.FirstFrame}
	boom := errors.New("boom")
	run.Latch(u).Fail(boom)

	err := run.Await(context.Background(), u, time.Second)
	var dep *DependencyError
	require.ErrorAs(t, err, &dep)
	assert.ErrorIs(t, err, boom)
}

func TestAwaitParentCancelled(t *testing.T) {
	run := testRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := run.Await(ctx, Unit{ShotIdx: 0, Kind: director.FirstFrame}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitUnknownUnit(t *testing.T) {
	run := testRun(t)
	assert.Error(t, run.Await(context.Background(), Unit{ShotIdx: 1, Kind: director.LastFrame}, time.Second))
}
