package renderer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ivlev/script2video/internal/director"
	"github.com/ivlev/script2video/internal/video"
)

// Entry is one shot's clip on the timeline
type Entry struct {
	ShotIdx       int                 `json:"shot_idx"`
	Path          string              `json:"path"`
	In            float64             `json:"in"`
	Out           float64             `json:"out"`
	TransitionIn  director.Transition `json:"transition_in"`
	TransitionOut director.Transition `json:"transition_out"`
}

// Timeline is the ordered cut list of the final video
type Timeline struct {
	Entries []Entry `json:"entries"`
}

// MissingVideosError lists shots that have no rendered video
type MissingVideosError struct {
	Shots []int
}

func (e *MissingVideosError) Error() string {
	parts := make([]string, len(e.Shots))
	for i, s := range e.Shots {
		parts[i] = fmt.Sprintf("%d", s)
	}
	return fmt.Sprintf("timeline: missing video for shot(s) %s", strings.Join(parts, ", "))
}

// DurationFunc returns the length of a clip in seconds
type DurationFunc func(ctx context.Context, path string) (float64, error)

// BuildTimeline collects the video of every shot in order. A shot without a
// video fails the whole timeline so the final cut is never silently shorter.
func BuildTimeline(ctx context.Context, shots []director.Shot, videoPath func(int) string, duration DurationFunc) (*Timeline, error) {
	tl := &Timeline{}
	var missing []int

	for _, s := range shots {
		path := videoPath(s.Idx)
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, s.Idx)
			continue
		}

		d, err := duration(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("timeline: shot %d: %w", s.Idx, err)
		}

		tl.Entries = append(tl.Entries, Entry{
			ShotIdx:       s.Idx,
			Path:          path,
			In:            0,
			Out:           d,
			TransitionIn:  orCut(s.TransitionIn),
			TransitionOut: orCut(s.TransitionOut),
		})
	}

	if len(missing) > 0 {
		sort.Ints(missing)
		return nil, &MissingVideosError{Shots: missing}
	}
	return tl, nil
}

// Clips converts the timeline into ffmpeg concatenation inputs
func (tl *Timeline) Clips() []video.Clip {
	clips := make([]video.Clip, len(tl.Entries))
	for i, e := range tl.Entries {
		clips[i] = video.Clip{
			Path:         e.Path,
			Duration:     e.Out - e.In,
			TransitionIn: e.TransitionIn,
		}
	}
	return clips
}

// Duration is the summed length of all entries, ignoring overlaps
func (tl *Timeline) Duration() float64 {
	total := 0.0
	for _, e := range tl.Entries {
		total += e.Out - e.In
	}
	return total
}

// WriteEDL writes a simple edit decision list next to the timeline
func WriteEDL(tl *Timeline, path string) error {
	lines := []string{"TITLE: ViMax Timeline", "FCM: NON-DROP FRAME"}
	for i, e := range tl.Entries {
		lines = append(lines, fmt.Sprintf("%03d  SHOT %d  %s  DUR %.2fs  PATH %s",
			i+1, e.ShotIdx, strings.ToUpper(string(e.TransitionOut)), e.Out-e.In, e.Path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644)
}

func orCut(t director.Transition) director.Transition {
	if t == "" {
		return director.Cut
	}
	return t
}
