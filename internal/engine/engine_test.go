package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ivlev/script2video/internal/config"
	"github.com/ivlev/script2video/internal/continuity"
	"github.com/ivlev/script2video/internal/director"
	"github.com/ivlev/script2video/internal/media"
	"github.com/ivlev/script2video/internal/scheduler"
	"github.com/ivlev/script2video/internal/store"
	"github.com/ivlev/script2video/internal/video"
)

type stubSelector struct{}

func (stubSelector) SelectReferences(ctx context.Context, req media.SelectionRequest) (media.Selection, error) {
	return media.Selection{References: req.Available, Prompt: req.Target}, nil
}

type stubImages struct{ calls atomic.Int32 }

func (s *stubImages) SynthesizeImage(ctx context.Context, prompt string, refs []media.Reference, size string) (media.Image, error) {
	s.calls.Add(1)
	return media.Image{Data: []byte(prompt), MIMEType: "image/png"}, nil
}

type stubTransitions struct{}

func (stubTransitions) SynthesizeTransition(ctx context.Context, req media.TransitionRequest) ([]byte, error) {
	return []byte("clip"), nil
}

type stubFrames struct{}

func (stubFrames) ExtractSceneFrame(ctx context.Context, clip string) ([]byte, error) {
	return []byte("still"), nil
}

type stubVideos struct {
	mu   sync.Mutex
	reqs []media.VideoRequest
}

func (s *stubVideos) SynthesizeVideo(ctx context.Context, req media.VideoRequest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return []byte("video"), nil
}

func (s *stubVideos) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

type stubAssembler struct {
	clips []video.Clip
	final string
}

func (s *stubAssembler) Concatenate(ctx context.Context, clips []video.Clip, finalPath, tmpDir string) error {
	s.clips = clips
	s.final = finalPath
	return os.WriteFile(finalPath, []byte("final"), 0644)
}

func fixedDuration(ctx context.Context, path string) (float64, error) { return 2, nil }

type harness struct {
	project   *Project
	store     *store.Store
	ledger    *store.Ledger
	images    *stubImages
	videos    *stubVideos
	assembler *stubAssembler
}

func validShots() []director.Shot {
	return []director.Shot{
		{
			Idx: 0, CameraID: 0, SceneID: 1,
			ShotSize: director.Long, Angle: director.EyeLevel, FocalLengthMM: 24,
			ScreenDirection: director.Static, VariationType: director.VariationLarge,
			VisualDesc: "street", FirstFrameDesc: "street empty", LastFrameDesc: "street busy",
			MotionDesc: "people flood in", AudioDesc: "traffic",
		},
		{
			Idx: 1, CameraID: 1, SceneID: 1,
			ShotSize: director.CloseUp, Angle: director.EyeLevel, FocalLengthMM: 85,
			ScreenDirection: director.Static, VariationType: director.VariationNone,
			VisualDesc: "alice", FirstFrameDesc: "alice smiles",
		},
	}
}

func newHarness(t *testing.T, shots []director.Shot, tweak func(*config.Config)) *harness {
	t.Helper()
	dir := t.TempDir()

	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, director.WriteCatalog(&director.Catalog{Version: "1", Shots: shots}, catalogPath))

	cfg := config.Default()
	cfg.WorkingDir = filepath.Join(dir, "work")
	cfg.Catalog = catalogPath
	cfg.Scheduler.Candidates = 1
	cfg.Scheduler.DependencyTimeout = 5 * time.Second
	cfg.Render.VideoTimeout = 5 * time.Second
	if tweak != nil {
		tweak(cfg)
	}

	st, err := store.New(cfg.WorkingDir)
	require.NoError(t, err)
	ledger, err := store.OpenLedger(context.Background(), st.LedgerPath())
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	h := &harness{
		store:     st,
		ledger:    ledger,
		images:    &stubImages{},
		videos:    &stubVideos{},
		assembler: &stubAssembler{},
	}
	h.project = NewProject(cfg, st, Deps{
		Frames: scheduler.Deps{
			Selector:    stubSelector{},
			Images:      h.images,
			Transitions: stubTransitions{},
			Frames:      stubFrames{},
		},
		Videos:    h.videos,
		Assembler: h.assembler,
		Duration:  fixedDuration,
		Ledger:    ledger,
	}, zap.NewNop())
	return h
}

func (h *harness) latestSummary(t *testing.T) store.RunSummary {
	t.Helper()
	ctx := context.Background()
	id, err := h.ledger.LatestRun(ctx)
	require.NoError(t, err)
	sum, err := h.ledger.Summary(ctx, id)
	require.NoError(t, err)
	return sum
}

func TestRunProducesFinalVideo(t *testing.T) {
	h := newHarness(t, validShots(), nil)
	require.NoError(t, h.project.Run(context.Background()))

	for _, p := range []string{
		h.store.CameraTreePath(),
		h.store.ContinuityReportPath(),
		h.store.TimelinePath(),
		h.store.EDLPath(),
		h.store.FinalVideoPath(),
		h.store.VideoPath(0),
		h.store.VideoPath(1),
	} {
		assert.FileExists(t, p)
	}

	require.Len(t, h.assembler.clips, 2)
	assert.Equal(t, h.store.VideoPath(0), h.assembler.clips[0].Path)
	assert.Equal(t, 2.0, h.assembler.clips[1].Duration)

	var withLast media.VideoRequest
	for _, r := range h.videos.reqs {
		if r.LastFrame != "" {
			withLast = r
		}
	}
	assert.Equal(t, h.store.FramePath(0, director.LastFrame), withLast.LastFrame)
	assert.Equal(t, "people flood in\ntraffic", withLast.Prompt)

	sum := h.latestSummary(t)
	assert.Equal(t, "succeeded", sum.Status)
	assert.Equal(t, map[string]int{store.StatusCompleted: 5}, sum.Counts())
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t, validShots(), nil)
	ctx := context.Background()
	require.NoError(t, h.project.Run(ctx))
	images, videos := h.images.calls.Load(), h.videos.count()

	require.NoError(t, h.project.Run(ctx))
	assert.Equal(t, images, h.images.calls.Load())
	assert.Equal(t, videos, h.videos.count())
	assert.Equal(t, map[string]int{store.StatusSkipped: 5}, h.latestSummary(t).Counts())
}

func TestRunStopsOnContinuityViolation(t *testing.T) {
	shots := validShots()
	shots[1].ShotSize = director.Long
	shots[1].FocalLengthMM = 28
	h := newHarness(t, shots, nil)

	err := h.project.Run(context.Background())
	var verr *continuity.ViolationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, continuity.JumpCut30, verr.Report.Violations[0].Kind)

	assert.FileExists(t, h.store.ContinuityReportPath())
	assert.False(t, h.store.HasFrame(0, director.FirstFrame))
	assert.Zero(t, h.images.calls.Load())
}

func TestRunInteractiveModeStopsAfterPlanning(t *testing.T) {
	h := newHarness(t, validShots(), func(c *config.Config) { c.InteractiveMode = true })
	require.NoError(t, h.project.Run(context.Background()))

	assert.FileExists(t, h.store.CameraTreePath())
	assert.Zero(t, h.images.calls.Load())
	_, err := h.ledger.LatestRun(context.Background())
	assert.Error(t, err)
}

func TestRunFramesOnly(t *testing.T) {
	h := newHarness(t, validShots(), func(c *config.Config) { c.Render.FramesOnly = true })
	require.NoError(t, h.project.Run(context.Background()))

	assert.True(t, h.store.HasFrame(0, director.LastFrame))
	assert.True(t, h.store.HasFrame(1, director.FirstFrame))
	assert.Zero(t, h.videos.count())
	assert.NoFileExists(t, h.store.TimelinePath())
}

func TestRunTruncatesToMaxShots(t *testing.T) {
	h := newHarness(t, validShots(), func(c *config.Config) { c.MaxShots = 1 })
	require.NoError(t, h.project.Run(context.Background()))

	assert.Len(t, h.assembler.clips, 1)
	assert.NoFileExists(t, h.store.VideoPath(1))
}

func TestCameraTreeIsReusedWhileItMatches(t *testing.T) {
	h := newHarness(t, validShots(), nil)
	ctx := context.Background()
	cat, _, err := h.project.LoadCatalog()
	require.NoError(t, err)

	stored := director.GroupCameras(cat.Shots)
	stored[1].Reason = "hand edited"
	require.NoError(t, director.WriteCameraTree(stored, h.store.CameraTreePath()))

	cams, err := h.project.CameraTree(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, "hand edited", cams[1].Reason)

	cat.Truncate(1)
	cams, err = h.project.CameraTree(ctx, cat)
	require.NoError(t, err)
	require.Len(t, cams, 1)
}

func TestRenderShotTimesOutWaitingForFrames(t *testing.T) {
	h := newHarness(t, validShots(), func(c *config.Config) { c.Render.VideoTimeout = 20 * time.Millisecond })
	cat, _, err := h.project.LoadCatalog()
	require.NoError(t, err)
	run, err := scheduler.NewRun("r", cat, director.GroupCameras(cat.Shots))
	require.NoError(t, err)

	out := h.project.renderShot(context.Background(), run, cat.Shots[1])
	assert.Equal(t, store.StatusFailed, out.status)
	var timeout *scheduler.FrameTimeoutError
	assert.ErrorAs(t, out.err, &timeout)
	assert.Zero(t, h.videos.count())
}

func TestRunAppendsBenchmarkLog(t *testing.T) {
	h := newHarness(t, validShots(), func(cfg *config.Config) { cfg.Render.ShowStats = true })
	ctx := context.Background()
	require.NoError(t, h.project.Run(ctx))
	require.NoError(t, h.project.Run(ctx))

	data, err := os.ReadFile(filepath.Join(h.store.Root(), "benchmark.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, "Shots: 2 |")
	}
}

func TestAppendLineReportsErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, appendLine(dir, "entry\n"))

	path := filepath.Join(dir, "log")
	require.NoError(t, appendLine(path, "a\n"))
	require.NoError(t, appendLine(path, "b\n"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestVideoPrompt(t *testing.T) {
	assert.Equal(t, "walks\nrain", videoPrompt(director.Shot{MotionDesc: "walks", AudioDesc: " rain "}))
	assert.Equal(t, "street", videoPrompt(director.Shot{VisualDesc: "street"}))
}
