package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/script2video/internal/director"
)

func TestLayout(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(s.Root(), "shots", "3", "first_frame.png"), s.FramePath(3, director.FirstFrame))
	assert.Equal(t, filepath.Join(s.Root(), "shots", "3", "last_frame_candidate_2.png"), s.CandidatePath(3, director.LastFrame, 2))
	assert.Equal(t, filepath.Join(s.Root(), "shots", "3", "first_frame_selector_output.json"), s.SelectorOutputPath(3, director.FirstFrame))
	assert.Equal(t, filepath.Join(s.Root(), "shots", "3", "first_frame_selection_reason.json"), s.SelectionReasonPath(3, director.FirstFrame))
	assert.Equal(t, filepath.Join(s.Root(), "shots", "5", "transition_video_from_shot_1.mp4"), s.TransitionClipPath(5, 1))
	assert.Equal(t, filepath.Join(s.Root(), "shots", "5", "new_camera_2.png"), s.NewCameraImagePath(5, 2))
	assert.Equal(t, filepath.Join(s.Root(), "camera_tree.json"), s.CameraTreePath())
}

func TestWriteOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shots", "0", "first_frame.png")

	written, err := WriteOnce(path, []byte("first"))
	require.NoError(t, err)
	assert.True(t, written)

	written, err = WriteOnce(path, []byte("second"))
	require.NoError(t, err)
	assert.False(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be cleaned up")
}

func TestWriteOnceConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			written, err := WriteOnce(path, []byte{byte(i)})
			assert.NoError(t, err)
			if written {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestCopyOnceAndJSON(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "candidate.png")
	dst := filepath.Join(dir, "first_frame.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0644))

	copied, err := CopyOnce(src, dst)
	require.NoError(t, err)
	assert.True(t, copied)

	copied, err = CopyOnce(src, dst)
	require.NoError(t, err)
	assert.False(t, copied)

	type reason struct {
		Selected string `json:"selected"`
	}
	jsonPath := filepath.Join(dir, "nested", "reason.json")
	require.NoError(t, SaveJSON(jsonPath, reason{Selected: dst}))

	var got reason
	require.NoError(t, LoadJSON(jsonPath, &got))
	assert.Equal(t, dst, got.Selected)
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	l, err := OpenLedger(ctx, ":memory:")
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.BeginRun(ctx, "run-1", "catalog.yaml"))
	require.NoError(t, l.RecordUnit(ctx, "run-1", 0, string(director.FirstFrame), StatusCompleted, nil))
	require.NoError(t, l.RecordUnit(ctx, "run-1", 1, string(director.FirstFrame), StatusFailed, errors.New("timed out")))
	require.NoError(t, l.RecordUnit(ctx, "run-1", 1, string(director.FirstFrame), StatusCompleted, nil))
	require.NoError(t, l.RecordUnit(ctx, "run-1", 1, KindVideo, StatusSkipped, nil))
	require.NoError(t, l.FinishRun(ctx, "run-1", nil))

	latest, err := l.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest)

	sum, err := l.Summary(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", sum.Status)
	assert.Equal(t, "catalog.yaml", sum.Catalog)
	require.Len(t, sum.Units, 3)
	assert.Equal(t, map[string]int{StatusCompleted: 2, StatusSkipped: 1}, sum.Counts())
	assert.Empty(t, sum.Units[1].Error)
}

func TestLedgerEmpty(t *testing.T) {
	ctx := context.Background()
	l, err := OpenLedger(ctx, ":memory:")
	require.NoError(t, err)
	defer l.Close()

	_, err = l.LatestRun(ctx)
	assert.Error(t, err)
}
