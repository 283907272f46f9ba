package video

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ivlev/script2video/internal/analyzer"
	"github.com/ivlev/script2video/internal/director"
)

func TestBuildFilterGraph(t *testing.T) {
	f := NewFFmpeg(analyzer.NewContentDetector(), "libx264", 23, zap.NewNop())

	clips := []Clip{
		{Path: "a.mp4", Duration: 4},
		{Path: "b.mp4", Duration: 3, TransitionIn: director.Cut},
		{Path: "c.mp4", Duration: 5, TransitionIn: director.Dissolve},
	}

	graph, out := f.BuildFilterGraph(clips)
	if out != "[v2]" {
		t.Errorf("Expected final output [v2], got %s", out)
	}

	parts := strings.Split(graph, ";")
	if len(parts) != 2 {
		t.Fatalf("Expected 2 filters, got %d: %s", len(parts), graph)
	}
	if parts[0] != "[0:v][1:v]concat=n=2:v=1:a=0[v1]" {
		t.Errorf("Unexpected cut filter: %s", parts[0])
	}
	// a + b = 7s, the dissolve starts half a second before the end
	want := "[v1][2:v]xfade=transition=dissolve:duration=0.500000:offset=6.500000[v2]"
	if parts[1] != want {
		t.Errorf("Unexpected xfade filter:\n got %s\nwant %s", parts[1], want)
	}
}

func TestBuildFilterGraphShortClipFallsBackToCut(t *testing.T) {
	f := NewFFmpeg(analyzer.NewContentDetector(), "libx264", 23, zap.NewNop())

	clips := []Clip{
		{Path: "a.mp4", Duration: 0.3},
		{Path: "b.mp4", Duration: 2, TransitionIn: director.Fade},
	}

	graph, _ := f.BuildFilterGraph(clips)
	if !strings.Contains(graph, "concat=n=2") {
		t.Errorf("Expected cut for a clip shorter than the fade, got %s", graph)
	}
}

func TestQualityArgs(t *testing.T) {
	tests := []struct {
		encoder string
		want    string
	}{
		{"libx264", "-crf 23 -preset medium"},
		{"h264_nvenc", "-cq 23"},
		{"h264_videotoolbox", "-b:v 2300k"},
	}

	for _, tt := range tests {
		t.Run(tt.encoder, func(t *testing.T) {
			f := &FFmpeg{Encoder: tt.encoder, Quality: 23}
			if got := strings.Join(f.qualityArgs(), " "); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
