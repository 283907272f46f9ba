package scheduler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/script2video/internal/director"
	"github.com/ivlev/script2video/internal/media"
	"github.com/ivlev/script2video/internal/store"
)

type selectionRecord struct {
	Candidates []string `json:"candidates"`
	Selected   string   `json:"selected"`
	Reason     string   `json:"reason"`
}

// synthesize produces a frame: pick references, render N candidates, keep
// the best one. Every intermediate artifact is reused when already on disk.
func (s *Scheduler) synthesize(ctx context.Context, run *Run, shot director.Shot, kind director.FrameKind, available []media.Reference) error {
	target := shot.FrameDesc(kind)
	if target == "" {
		target = shot.VisualDesc
	}

	sel, err := s.selection(ctx, run, shot, kind, target, available)
	if err != nil {
		return err
	}
	prompt := buildPrompt(sel, target)

	candidates := make([]string, s.opts.Candidates)
	g, gctx := errgroup.WithContext(ctx)
	for k := range candidates {
		path := s.store.CandidatePath(shot.Idx, kind, k)
		candidates[k] = path
		if store.Exists(path) {
			continue
		}
		g.Go(func() error {
			var img media.Image
			err := s.limited(gctx, func() error {
				var err error
				img, err = s.deps.Images.SynthesizeImage(gctx, prompt, sel.References, s.opts.ImageSize)
				return err
			})
			if err != nil {
				return fmt.Errorf("candidate %d: %w", k, err)
			}
			_, err = store.WriteOnce(path, img.Data)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	best, reason := s.pick(ctx, sel.References, target, candidates)
	rec := selectionRecord{Candidates: candidates, Selected: best, Reason: reason}
	if err := store.SaveJSON(s.store.SelectionReasonPath(shot.Idx, kind), rec); err != nil {
		return err
	}

	_, err = store.CopyOnce(best, s.store.FramePath(shot.Idx, kind))
	return err
}

func (s *Scheduler) selection(ctx context.Context, run *Run, shot director.Shot, kind director.FrameKind, target string, available []media.Reference) (media.Selection, error) {
	path := s.store.SelectorOutputPath(shot.Idx, kind)

	var sel media.Selection
	if store.Exists(path) {
		if err := store.LoadJSON(path, &sel); err == nil {
			return sel, nil
		}
		s.logger.Warn("unreadable selector output, selecting again", zap.String("path", path))
	}

	if len(available) > 0 {
		req := media.SelectionRequest{
			Available: available,
			Target:    target,
			Style:     s.style(run),
			Scene:     sceneContext(run, shot),
		}
		var err error
		sel, err = s.deps.Selector.SelectReferences(ctx, req)
		if err != nil {
			return sel, fmt.Errorf("select references: %w", err)
		}
	}

	if err := store.SaveJSON(path, sel); err != nil {
		return sel, err
	}
	return sel, nil
}

// pick asks the candidate selector for the best candidate. Any selector
// failure falls back to the first candidate.
func (s *Scheduler) pick(ctx context.Context, refs []media.Reference, target string, candidates []string) (string, string) {
	if len(candidates) == 0 {
		return "", errNoCandidates.Error()
	}
	if len(candidates) == 1 || s.deps.Picker == nil {
		return candidates[0], "single candidate"
	}

	v, err := s.deps.Picker.SelectBest(ctx, refs, target, candidates)
	if err == nil && (v.Index < 0 || v.Index >= len(candidates)) {
		err = fmt.Errorf("index %d out of range", v.Index)
	}
	if err != nil {
		s.logger.Warn("candidate selection failed, using the first one", zap.Error(err))
		return candidates[0], "fallback_first_candidate_due_to_error: " + err.Error()
	}
	return candidates[v.Index], v.Reason
}

func (s *Scheduler) style(run *Run) string {
	if s.opts.Style != "" {
		return s.opts.Style
	}
	return run.Catalog().Style
}

func sceneContext(run *Run, shot director.Shot) string {
	sc, ok := run.Catalog().Scene(shot.SceneID)
	if !ok {
		return ""
	}
	var parts []string
	if sc.Location != "" {
		parts = append(parts, sc.Location)
	}
	if sc.TimeOfDay != "" {
		parts = append(parts, sc.TimeOfDay)
	}
	if sc.Description != "" {
		parts = append(parts, sc.Description)
	}
	return strings.Join(parts, ". ")
}

// buildPrompt prefixes the selector's prompt with a line per reference image.
func buildPrompt(sel media.Selection, target string) string {
	prompt := sel.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = "Generate an image based on the following description:\n" + target
	}

	var b strings.Builder
	for i, ref := range sel.References {
		fmt.Fprintf(&b, "Image %d: %s\n", i, ref.Description)
	}
	b.WriteString(prompt)
	return b.String()
}
