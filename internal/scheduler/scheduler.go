// Package scheduler generates the key stills of every shot. Each camera is a
// task of its own; cross-camera dependencies are expressed only through the
// per-unit latches of a Run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ivlev/script2video/internal/director"
	"github.com/ivlev/script2video/internal/media"
	"github.com/ivlev/script2video/internal/store"
)

// FrameExtractor picks a representative still out of a rendered clip.
type FrameExtractor interface {
	ExtractSceneFrame(ctx context.Context, clipPath string) ([]byte, error)
}

// Assets resolves character portraits and scene environments.
type Assets interface {
	Views(identifier string) []media.Reference
	View(identifier string, facing director.Facing) (media.Reference, bool)
	Environment(sceneID int) []media.Reference
}

type Deps struct {
	Selector    media.ReferenceSelector
	Images      media.ImageSynthesizer
	Transitions media.TransitionSynthesizer
	Picker      media.CandidateSelector
	Frames      FrameExtractor
	Assets      Assets
}

type Options struct {
	// Candidates is the number of images synthesized per frame before the
	// best one is picked.
	Candidates        int
	ImageSize         string
	DependencyTimeout time.Duration
	// AnchorGap is the shot distance from which a camera's first frame is
	// added as an anchor reference.
	AnchorGap     int
	MaxConcurrent int
	Style         string
}

func DefaultOptions() Options {
	return Options{
		Candidates:        3,
		ImageSize:         "1600x900",
		DependencyTimeout: 10 * time.Minute,
		AnchorGap:         3,
		MaxConcurrent:     4,
	}
}

type Scheduler struct {
	deps   Deps
	opts   Options
	store  *store.Store
	sem    *semaphore.Weighted
	logger *zap.Logger
}

func New(deps Deps, opts Options, st *store.Store, logger *zap.Logger) *Scheduler {
	if opts.Candidates < 1 {
		opts.Candidates = 1
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.ImageSize == "" {
		opts.ImageSize = DefaultOptions().ImageSize
	}
	return &Scheduler{
		deps:   deps,
		opts:   opts,
		store:  st,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger: logger,
	}
}

// Generate runs one task per camera and waits for all of them. A failing
// camera does not stop its siblings; every failed unit is reported in the
// returned error and in run.Outcomes.
func (s *Scheduler) Generate(ctx context.Context, run *Run) error {
	s.logger.Info("Генерация кадров",
		zap.String("run", run.ID),
		zap.Int("cameras", len(run.Cameras())),
		zap.Int("units", len(run.Units())))

	var wg sync.WaitGroup
	for _, cam := range run.Cameras() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runCamera(ctx, run, cam)
		}()
	}
	wg.Wait()

	if err := run.Err(); err != nil {
		return fmt.Errorf("frame generation: %w", err)
	}
	return nil
}

func (s *Scheduler) runCamera(ctx context.Context, run *Run, cam director.Camera) {
	log := s.logger.With(zap.Int("camera", cam.ID))
	first := cam.FirstShot()

	var cause error
	defer func() { run.abandon(cam, cause) }()

	if err := s.produce(ctx, run, Unit{ShotIdx: first, Kind: director.FirstFrame}, func(ctx context.Context) error {
		return s.cameraFirstFrame(ctx, run, cam)
	}); err != nil {
		log.Error("camera first frame failed", zap.Int("shot", first), zap.Error(err))
		cause = err
		return
	}

	if run.Shot(first).NeedsLastFrame() {
		_ = s.frame(ctx, run, cam, Unit{ShotIdx: first, Kind: director.LastFrame})
	}

	rest := cam.ActiveShotIdxs[1:]

	// Other cameras wait on these; produce them before anything else.
	for _, idx := range rest {
		if run.Priority(idx) {
			_ = s.frame(ctx, run, cam, Unit{ShotIdx: idx, Kind: director.FirstFrame})
		}
	}

	// The remaining shots run concurrently; within a shot the last frame
	// follows the first so it can use it as a reference.
	var wg sync.WaitGroup
	for _, idx := range rest {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, kind := range run.Shot(idx).Frames() {
				u := Unit{ShotIdx: idx, Kind: kind}
				if run.Latch(u).Resolved() {
					continue
				}
				_ = s.frame(ctx, run, cam, u)
			}
		}()
	}
	wg.Wait()
	log.Debug("camera done")
}

// produce runs fn for a unit at most once per run. A frame already on disk is
// skipped. The unit's latch is resolved whatever the result.
func (s *Scheduler) produce(ctx context.Context, run *Run, u Unit, fn func(ctx context.Context) error) error {
	_, err, _ := run.flight.Do(u.String(), func() (any, error) {
		l := run.Latch(u)
		if l.Resolved() {
			return nil, l.Err()
		}

		if s.store.HasFrame(u.ShotIdx, u.Kind) {
			s.logger.Debug("frame exists, skipping", zap.Stringer("unit", u))
			run.record(u, Skipped, nil)
			l.Set()
			return nil, nil
		}

		err := fn(ctx)
		if err == nil && !s.store.HasFrame(u.ShotIdx, u.Kind) {
			err = fmt.Errorf("%s was not written", s.store.FramePath(u.ShotIdx, u.Kind))
		}
		if err != nil {
			s.logger.Error("frame failed", zap.Stringer("unit", u), zap.Error(err))
			run.record(u, Failed, err)
			l.Fail(err)
			return nil, err
		}

		s.logger.Info("frame ready", zap.Stringer("unit", u))
		run.record(u, Completed, nil)
		l.Set()
		return nil, nil
	})
	return err
}

func (s *Scheduler) frame(ctx context.Context, run *Run, cam director.Camera, u Unit) error {
	return s.produce(ctx, run, u, func(ctx context.Context) error {
		shot := run.Shot(u.ShotIdx)
		return s.synthesize(ctx, run, shot, u.Kind, s.frameReferences(run, cam, shot, u.Kind))
	})
}

// cameraFirstFrame produces the establishing still of a camera. A camera
// with a parent derives it from a transition clip rendered out of the
// parent's frame; a root camera synthesizes it from portraits alone.
func (s *Scheduler) cameraFirstFrame(ctx context.Context, run *Run, cam director.Camera) error {
	shot := run.Shot(cam.FirstShot())

	var available []media.Reference
	if cam.HasParent() {
		parent := Unit{ShotIdx: *cam.ParentShotIdx, Kind: director.FirstFrame}
		if err := run.Await(ctx, parent, s.opts.DependencyTimeout); err != nil {
			return err
		}

		derived, err := s.deriveFromParent(ctx, run, cam, shot)
		if err != nil {
			return err
		}
		if !cam.PartialCoverage() {
			_, err := store.CopyOnce(derived, s.store.FramePath(shot.Idx, director.FirstFrame))
			return err
		}
		available = append(available, media.Reference{Path: derived, Description: recompositeDescription(cam)})
	}

	available = append(available, s.portraits(run, shot)...)
	available = append(available, s.assets().Environment(shot.SceneID)...)
	return s.synthesize(ctx, run, shot, director.FirstFrame, available)
}

func recompositeDescription(cam director.Camera) string {
	missing := cam.MissingInfo
	if missing == "" {
		missing = "nothing noted"
	}
	return fmt.Sprintf("A frame cut from shot %d to this camera. Keep its background and layout; "+
		"replace the elements that are wrong and add what is missing: %s", *cam.ParentShotIdx, missing)
}

// deriveFromParent renders the transition clip from the parent shot and
// extracts the new camera's still from it. Both artifacts are reused when
// already on disk.
func (s *Scheduler) deriveFromParent(ctx context.Context, run *Run, cam director.Camera, shot director.Shot) (string, error) {
	parent := run.Shot(*cam.ParentShotIdx)

	clip := s.store.TransitionClipPath(shot.Idx, parent.Idx)
	if !store.Exists(clip) {
		req := media.TransitionRequest{
			FromDesc:  parent.VisualDesc,
			ToDesc:    shot.VisualDesc,
			FromFrame: s.store.FramePath(parent.Idx, director.FirstFrame),
		}
		var data []byte
		err := s.limited(ctx, func() error {
			var err error
			data, err = s.deps.Transitions.SynthesizeTransition(ctx, req)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("transition from shot %d: %w", parent.Idx, err)
		}
		if _, err := store.WriteOnce(clip, data); err != nil {
			return "", err
		}
	}

	img := s.store.NewCameraImagePath(shot.Idx, cam.ID)
	if !store.Exists(img) {
		data, err := s.deps.Frames.ExtractSceneFrame(ctx, clip)
		if err != nil {
			return "", fmt.Errorf("extract camera %d frame: %w", cam.ID, err)
		}
		if _, err := store.WriteOnce(img, data); err != nil {
			return "", err
		}
	}
	return img, nil
}

// portraits lists every view of the characters visible in a shot's first frame.
func (s *Scheduler) portraits(run *Run, shot director.Shot) []media.Reference {
	var refs []media.Reference
	for _, ch := range shot.FirstFrameCharacters {
		c, ok := run.Catalog().Character(ch)
		if !ok {
			continue
		}
		refs = append(refs, s.assets().Views(c.Identifier)...)
	}
	return refs
}

// frameReferences assembles the reference images of any frame other than a
// camera's first.
func (s *Scheduler) frameReferences(run *Run, cam director.Camera, shot director.Shot, kind director.FrameKind) []media.Reference {
	var refs []media.Reference

	for _, ch := range shot.FrameCharacters(kind) {
		c, ok := run.Catalog().Character(ch)
		if !ok {
			continue
		}
		if ref, ok := s.assets().View(c.Identifier, shot.FrameFacing(kind, ch)); ok {
			refs = append(refs, ref)
		}
	}

	if kind == director.LastFrame && s.done(run, Unit{ShotIdx: shot.Idx, Kind: director.FirstFrame}) {
		refs = append(refs, media.Reference{
			Path:        s.store.FramePath(shot.Idx, director.FirstFrame),
			Description: "The first frame of this shot: " + shot.FirstFrameDesc,
		})
	}

	if prev, ok := s.previousFrame(run, shot); ok {
		refs = append(refs, prev)
	}

	first := run.Shot(cam.FirstShot())
	if shot.Idx-first.Idx >= s.opts.AnchorGap && first.SceneID == shot.SceneID &&
		s.done(run, Unit{ShotIdx: first.Idx, Kind: director.FirstFrame}) {
		refs = append(refs, media.Reference{
			Path:        s.store.FramePath(first.Idx, director.FirstFrame),
			Description: "The establishing frame of this camera: " + first.FirstFrameDesc,
		})
	}

	return append(refs, s.assets().Environment(shot.SceneID)...)
}

// previousFrame returns the latest finished still of the immediately
// preceding shot when it belongs to the same scene.
func (s *Scheduler) previousFrame(run *Run, shot director.Shot) (media.Reference, bool) {
	if shot.Idx == 0 {
		return media.Reference{}, false
	}
	prev := run.Shot(shot.Idx - 1)
	if prev.SceneID != shot.SceneID {
		return media.Reference{}, false
	}

	if prev.NeedsLastFrame() && s.done(run, Unit{ShotIdx: prev.Idx, Kind: director.LastFrame}) {
		return media.Reference{
			Path:        s.store.FramePath(prev.Idx, director.LastFrame),
			Description: "The last frame of the previous shot: " + prev.LastFrameDesc,
		}, true
	}
	if s.done(run, Unit{ShotIdx: prev.Idx, Kind: director.FirstFrame}) {
		return media.Reference{
			Path:        s.store.FramePath(prev.Idx, director.FirstFrame),
			Description: "The first frame of the previous shot: " + prev.FirstFrameDesc,
		}, true
	}
	return media.Reference{}, false
}

// done reports whether a unit is usable as a reference right now.
func (s *Scheduler) done(run *Run, u Unit) bool {
	if l := run.Latch(u); l != nil && l.IsSet() {
		return true
	}
	return s.store.HasFrame(u.ShotIdx, u.Kind)
}

func (s *Scheduler) assets() Assets {
	if s.deps.Assets == nil {
		return noAssets{}
	}
	return s.deps.Assets
}

// limited runs fn while holding a slot of the synthesis semaphore.
func (s *Scheduler) limited(ctx context.Context, fn func() error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return fn()
}

type noAssets struct{}

func (noAssets) Views(string) []media.Reference { return nil }
func (noAssets) View(string, director.Facing) (media.Reference, bool) {
	return media.Reference{}, false
}
func (noAssets) Environment(int) []media.Reference { return nil }

var errNoCandidates = errors.New("no candidates")
