package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivlev/script2video/internal/config"
	"github.com/ivlev/script2video/internal/continuity"
	"github.com/ivlev/script2video/internal/director"
	"github.com/ivlev/script2video/internal/media"
	"github.com/ivlev/script2video/internal/renderer"
	"github.com/ivlev/script2video/internal/scheduler"
	"github.com/ivlev/script2video/internal/store"
	"github.com/ivlev/script2video/internal/video"
)

// DefaultCatalogDir is searched for the newest catalog when none is configured.
var DefaultCatalogDir = filepath.Join("input", "catalog")

// Assembler joins the shot clips into the final video.
type Assembler interface {
	Concatenate(ctx context.Context, clips []video.Clip, finalPath, tmpDir string) error
}

type Deps struct {
	Proposer  director.TreeProposer
	Frames    scheduler.Deps
	Videos    media.VideoSynthesizer
	Assembler Assembler
	Duration  renderer.DurationFunc
	// Ledger is optional.
	Ledger *store.Ledger
}

type Project struct {
	Config *config.Config
	store  *store.Store
	deps   Deps
	logger *zap.Logger
}

func NewProject(cfg *config.Config, st *store.Store, deps Deps, logger *zap.Logger) *Project {
	return &Project{
		Config: cfg,
		store:  st,
		deps:   deps,
		logger: logger,
	}
}

// Stats are the stage timings of one run.
type Stats struct {
	Shots    int
	Planning time.Duration
	Frames   time.Duration
	Assembly time.Duration
	Total    time.Duration
}

// LoadCatalog reads the configured catalog, truncates it to max_shots and
// validates it.
func (p *Project) LoadCatalog() (*director.Catalog, string, error) {
	path := p.Config.Catalog
	if path == "" {
		var err error
		if path, err = director.FindLatestCatalog(DefaultCatalogDir); err != nil {
			return nil, "", err
		}
	}

	cat, err := director.ReadCatalog(path)
	if err != nil {
		return nil, "", fmt.Errorf("read catalog %s: %w", path, err)
	}
	if p.Config.MaxShots > 0 {
		cat.Truncate(p.Config.MaxShots)
	}
	if err := cat.Validate(); err != nil {
		return nil, "", err
	}
	return cat, path, nil
}

// CameraTree returns the stored camera tree when it still matches the
// catalog, otherwise builds and stores a new one.
func (p *Project) CameraTree(ctx context.Context, cat *director.Catalog) ([]director.Camera, error) {
	path := p.store.CameraTreePath()
	if store.Exists(path) {
		cams, err := director.ReadCameraTree(path)
		if err == nil && treeMatches(cams, cat.Shots) {
			p.logger.Info("reusing camera tree", zap.String("path", path))
			return cams, nil
		}
		p.logger.Warn("stored camera tree does not match the catalog, rebuilding", zap.String("path", path))
	}

	cams, err := director.NewDirector(p.deps.Proposer, p.logger).BuildCameraTree(ctx, cat.Shots)
	if err != nil {
		return nil, err
	}
	if err := director.WriteCameraTree(cams, path); err != nil {
		return nil, fmt.Errorf("write camera tree: %w", err)
	}
	return cams, nil
}

// treeMatches reports whether a tree films exactly the catalog's shots.
func treeMatches(cams []director.Camera, shots []director.Shot) bool {
	want := director.GroupCameras(shots)
	if len(want) != len(cams) {
		return false
	}
	for i := range want {
		if want[i].ID != cams[i].ID || !slices.Equal(want[i].ActiveShotIdxs, cams[i].ActiveShotIdxs) {
			return false
		}
	}
	return true
}

// Check runs the continuity gate and always writes its report.
func (p *Project) Check(ctx context.Context) (continuity.Report, error) {
	cat, _, err := p.LoadCatalog()
	if err != nil {
		return continuity.Report{}, err
	}
	cams, err := p.CameraTree(ctx, cat)
	if err != nil {
		return continuity.Report{}, err
	}
	return p.check(cat, cams)
}

func (p *Project) check(cat *director.Catalog, cams []director.Camera) (continuity.Report, error) {
	report := continuity.Validate(cat.Shots, cams)
	if err := continuity.WriteReport(report, p.store.ContinuityReportPath()); err != nil {
		return report, fmt.Errorf("write continuity report: %w", err)
	}
	for _, v := range report.Violations {
		p.logger.Error("continuity violation",
			zap.Int("shot", v.ShotIdx),
			zap.String("rule", string(v.Kind)),
			zap.String("message", v.Message),
			zap.String("fix", v.SuggestedFix))
	}
	return report, report.Err()
}

// Run executes the pipeline: catalog, camera tree, continuity gate, frames
// and shot videos, timeline and final video.
func (p *Project) Run(ctx context.Context) (err error) {
	var stats Stats
	start := time.Now()

	cat, catalogPath, err := p.LoadCatalog()
	if err != nil {
		return err
	}
	stats.Shots = len(cat.Shots)

	cams, err := p.CameraTree(ctx, cat)
	if err != nil {
		return err
	}
	if _, err := p.check(cat, cams); err != nil {
		return err
	}
	stats.Planning = time.Since(start)

	if p.Config.InteractiveMode {
		p.logger.Info("interactive mode: planning done, stopping before generation",
			zap.Int("shots", len(cat.Shots)),
			zap.Int("cameras", len(cams)),
			zap.String("camera_tree", p.store.CameraTreePath()))
		return nil
	}
	if !p.Config.Render.FramesOnly && p.deps.Videos == nil {
		return errors.New("no video synthesizer configured")
	}

	run, err := scheduler.NewRun(uuid.NewString(), cat, cams)
	if err != nil {
		return err
	}
	p.beginRun(ctx, run.ID, catalogPath)
	defer func() { p.finishRun(ctx, run.ID, err) }()

	framesStart := time.Now()
	sched := scheduler.New(p.deps.Frames, p.Config.SchedulerOptions(), p.store, p.logger)

	var frameErr error
	videos := make([]videoOutcome, len(cat.Shots))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		frameErr = sched.Generate(ctx, run)
	}()
	if !p.Config.Render.FramesOnly {
		for i, shot := range cat.Shots {
			wg.Add(1)
			go func() {
				defer wg.Done()
				videos[i] = p.renderShot(ctx, run, shot)
			}()
		}
	}
	wg.Wait()
	stats.Frames = time.Since(framesStart)

	p.recordUnits(ctx, run, cat.Shots, videos)

	var videoErrs []error
	for i, v := range videos {
		if v.err != nil {
			videoErrs = append(videoErrs, fmt.Errorf("shot %d video: %w", cat.Shots[i].Idx, v.err))
		}
	}
	if err := errors.Join(frameErr, errors.Join(videoErrs...)); err != nil {
		return err
	}

	if p.Config.Render.FramesOnly {
		p.logger.Info("frames ready", zap.Int("units", len(run.Units())))
		return nil
	}

	assemblyStart := time.Now()
	if err := p.assemble(ctx, cat); err != nil {
		return err
	}
	stats.Assembly = time.Since(assemblyStart)
	stats.Total = time.Since(start)

	if p.Config.Render.ShowStats {
		p.report(stats)
	}
	return nil
}

type videoOutcome struct {
	status string
	err    error
}

// renderShot waits for the shot's key frames and renders its clip.
func (p *Project) renderShot(ctx context.Context, run *scheduler.Run, shot director.Shot) videoOutcome {
	out := p.store.VideoPath(shot.Idx)
	if store.Exists(out) {
		return videoOutcome{status: store.StatusSkipped}
	}

	for _, kind := range shot.Frames() {
		u := scheduler.Unit{ShotIdx: shot.Idx, Kind: kind}
		if err := run.Await(ctx, u, p.Config.Render.VideoTimeout); err != nil {
			return videoOutcome{status: store.StatusFailed, err: err}
		}
		if !p.store.HasFrame(shot.Idx, kind) {
			return videoOutcome{status: store.StatusFailed, err: fmt.Errorf("%s missing on disk", u)}
		}
	}

	req := media.VideoRequest{
		Prompt:     videoPrompt(shot),
		FirstFrame: p.store.FramePath(shot.Idx, director.FirstFrame),
	}
	if shot.NeedsLastFrame() {
		req.LastFrame = p.store.FramePath(shot.Idx, director.LastFrame)
	}

	data, err := p.deps.Videos.SynthesizeVideo(ctx, req)
	if err != nil {
		return videoOutcome{status: store.StatusFailed, err: err}
	}
	if _, err := store.WriteOnce(out, data); err != nil {
		return videoOutcome{status: store.StatusFailed, err: err}
	}
	p.logger.Info("shot video ready", zap.Int("shot", shot.Idx), zap.String("path", out))
	return videoOutcome{status: store.StatusCompleted}
}

func videoPrompt(shot director.Shot) string {
	var parts []string
	for _, s := range []string{shot.MotionDesc, shot.AudioDesc} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return shot.VisualDesc
	}
	return strings.Join(parts, "\n")
}

// assemble builds the timeline and joins the clips into the final video.
func (p *Project) assemble(ctx context.Context, cat *director.Catalog) error {
	tl, err := renderer.BuildTimeline(ctx, cat.Shots, p.store.VideoPath, p.deps.Duration)
	if err != nil {
		return err
	}
	if err := store.SaveJSON(p.store.TimelinePath(), tl); err != nil {
		return fmt.Errorf("write timeline: %w", err)
	}
	if err := renderer.WriteEDL(tl, p.store.EDLPath()); err != nil {
		return fmt.Errorf("write edl: %w", err)
	}
	if !p.Config.Render.FinalVideo {
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "script2video_")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	p.logger.Info("Сборка финального видео", zap.Int("clips", len(tl.Entries)), zap.Float64("duration", tl.Duration()))
	if err := p.deps.Assembler.Concatenate(ctx, tl.Clips(), p.store.FinalVideoPath(), tmpDir); err != nil {
		return fmt.Errorf("ошибка сборки финального видео: %w", err)
	}
	return nil
}

func (p *Project) beginRun(ctx context.Context, runID, catalog string) {
	if p.deps.Ledger == nil {
		return
	}
	if err := p.deps.Ledger.BeginRun(ctx, runID, catalog); err != nil {
		p.logger.Warn("ledger: begin run", zap.Error(err))
	}
}

func (p *Project) finishRun(ctx context.Context, runID string, runErr error) {
	if p.deps.Ledger == nil {
		return
	}
	if err := p.deps.Ledger.FinishRun(context.WithoutCancel(ctx), runID, runErr); err != nil {
		p.logger.Warn("ledger: finish run", zap.Error(err))
	}
}

func (p *Project) recordUnits(ctx context.Context, run *scheduler.Run, shots []director.Shot, videos []videoOutcome) {
	if p.deps.Ledger == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, o := range run.Outcomes() {
		if err := p.deps.Ledger.RecordUnit(ctx, run.ID, o.Unit.ShotIdx, string(o.Unit.Kind), string(o.Status), o.Err); err != nil {
			p.logger.Warn("ledger: record frame", zap.Stringer("unit", o.Unit), zap.Error(err))
		}
	}
	for i, v := range videos {
		if v.status == "" {
			continue
		}
		if err := p.deps.Ledger.RecordUnit(ctx, run.ID, shots[i].Idx, store.KindVideo, v.status, v.err); err != nil {
			p.logger.Warn("ledger: record video", zap.Int("shot", shots[i].Idx), zap.Error(err))
		}
	}
}

func (p *Project) report(s Stats) {
	p.logger.Info("performance report",
		zap.Int("shots", s.Shots),
		zap.Duration("planning", s.Planning),
		zap.Duration("frames_and_videos", s.Frames),
		zap.Duration("assembly", s.Assembly),
		zap.Duration("total", s.Total))

	entry := fmt.Sprintf("[%s] Shots: %d | Planning: %.2fs | Frames+Videos: %.2fs | Assembly: %.2fs | Total: %.2fs\n",
		time.Now().Format("2006-01-02 15:04:05"),
		s.Shots, s.Planning.Seconds(), s.Frames.Seconds(), s.Assembly.Seconds(), s.Total.Seconds())

	if err := appendLine(filepath.Join(p.store.Root(), "benchmark.log"), entry); err != nil {
		p.logger.Warn("не удалось записать benchmark.log", zap.Error(err))
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
