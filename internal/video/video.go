package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ivlev/script2video/internal/analyzer"
	"github.com/ivlev/script2video/internal/director"
	"github.com/ivlev/script2video/internal/effects"
)

// Clip is one entry of a concatenation
type Clip struct {
	Path         string
	Duration     float64
	TransitionIn director.Transition
}

// FFmpeg wraps the ffmpeg binary for frame sampling and final assembly
type FFmpeg struct {
	SampleFPS float64
	Detector  analyzer.Detector
	Encoder   string
	Quality   int
	Fade      float64
	// Xfade reports whether soft transitions may be rendered; when false
	// every transition is a cut.
	Xfade  bool
	logger *zap.Logger
}

func NewFFmpeg(detector analyzer.Detector, encoder string, quality int, logger *zap.Logger) *FFmpeg {
	return &FFmpeg{
		SampleFPS: 4,
		Detector:  detector,
		Encoder:   encoder,
		Quality:   quality,
		Fade:      effects.DefaultFadeDuration,
		Xfade:     true,
		logger:    logger,
	}
}

// SampleFrames decodes the clip at SampleFPS frames per second
func (f *FFmpeg) SampleFrames(ctx context.Context, clipPath string) ([]image.Image, error) {
	tmpDir, err := os.MkdirTemp("", "script2video_frames_")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-v", "error",
		"-i", clipPath,
		"-vf", fmt.Sprintf("fps=%g", f.SampleFPS),
		filepath.Join(tmpDir, "frame_%05d.png"),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg sample error: %v, output: %s", err, string(out))
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := decodePNG(filepath.Join(tmpDir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// LastFrame returns the final decoded frame of the clip as PNG
func (f *FFmpeg) LastFrame(ctx context.Context, clipPath string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "script2video_last_*.png")
	if err != nil {
		return nil, err
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-v", "error",
		"-sseof", "-0.5", "-i", clipPath,
		"-update", "1", tmp.Name(),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg last frame error: %v, output: %s", err, string(out))
	}
	return os.ReadFile(tmp.Name())
}

// ExtractSceneFrame picks the opening frame of the clip's second sub-scene,
// or the clip's last frame when no cut is detected
func (f *FFmpeg) ExtractSceneFrame(ctx context.Context, clipPath string) ([]byte, error) {
	frames, err := f.SampleFrames(ctx, clipPath)
	if err != nil {
		return nil, err
	}

	cuts, err := f.Detector.DetectCuts(frames)
	if err != nil {
		return nil, fmt.Errorf("detect cuts in %s: %w", clipPath, err)
	}
	if len(cuts) == 0 {
		f.logger.Debug("no cut in transition clip, using last frame", zap.String("clip", clipPath))
		return f.LastFrame(ctx, clipPath)
	}

	f.logger.Debug("transition clip cut",
		zap.String("clip", clipPath),
		zap.Int("frame", cuts[0].Index),
		zap.Float64("score", cuts[0].Score),
	)
	var buf bytes.Buffer
	if err := png.Encode(&buf, frames[cuts[0].Index]); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Concatenate joins clips into finalPath. Clips joined only by cuts are
// stream-copied; soft transitions go through an xfade filter graph.
func (f *FFmpeg) Concatenate(ctx context.Context, clips []Clip, finalPath string, tmpDir string) error {
	if len(clips) == 0 {
		return fmt.Errorf("nothing to concatenate")
	}

	useComplex := false
	if f.Xfade {
		for _, c := range clips[1:] {
			if c.TransitionIn.Soft() {
				useComplex = true
				break
			}
		}
	}

	if !useComplex {
		concatFilePath := filepath.Join(tmpDir, "inputs.txt")
		fh, err := os.Create(concatFilePath)
		if err != nil {
			return err
		}
		for _, c := range clips {
			absPath, _ := filepath.Abs(c.Path)
			fmt.Fprintf(fh, "file '%s'\n", absPath)
		}
		fh.Close()

		cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
			"-f", "concat", "-safe", "0", "-i", concatFilePath,
			"-c", "copy", finalPath,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("ffmpeg concat error: %v, output: %s", err, string(out))
		}
		return nil
	}

	args := append([]string{"-y"}, f.inputArgs(clips)...)
	graph, lastOut := f.BuildFilterGraph(clips)
	args = append(args, "-filter_complex", graph, "-map", lastOut)
	args = append(args, "-c:v", f.Encoder, "-pix_fmt", "yuv420p")
	args = append(args, f.qualityArgs()...)
	args = append(args, finalPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg xfade error: %v, output: %s", err, string(out))
	}
	return nil
}

func (f *FFmpeg) inputArgs(clips []Clip) []string {
	var args []string
	for _, c := range clips {
		args = append(args, "-i", c.Path)
	}
	return args
}

// BuildFilterGraph chains every clip onto the running output, overlapping
// soft transitions and butting cuts together. It returns the graph and the
// label of its final output.
func (f *FFmpeg) BuildFilterGraph(clips []Clip) (string, string) {
	var parts []string
	lastOut := "[0:v]"
	length := clips[0].Duration

	for i := 1; i < len(clips); i++ {
		eff := effects.ForTransition(clips[i].TransitionIn, f.Fade)
		fade := eff.Duration()
		if fade >= clips[i].Duration || fade >= length {
			eff = effects.ForTransition(director.Cut, 0)
			fade = 0
		}

		outName := fmt.Sprintf("[v%d]", i)
		parts = append(parts, eff.GenerateFilter(lastOut, fmt.Sprintf("[%d:v]", i), outName, length-fade))
		length += clips[i].Duration - fade
		lastOut = outName
	}

	return strings.Join(parts, ";"), lastOut
}

func (f *FFmpeg) qualityArgs() []string {
	switch f.Encoder {
	case "h264_videotoolbox":
		// VideoToolbox часто не поддерживает -q:v напрямую. Используем битрейт.
		return []string{"-b:v", fmt.Sprintf("%dk", f.Quality*100)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", f.Quality)}
	default: // libx264
		return []string{"-crf", fmt.Sprintf("%d", f.Quality), "-preset", "medium"}
	}
}

func decodePNG(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return png.Decode(fh)
}
