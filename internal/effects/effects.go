package effects

import (
	"fmt"

	"github.com/ivlev/script2video/internal/director"
)

// DefaultFadeDuration is the length of a soft transition in seconds
const DefaultFadeDuration = 0.5

// Effect turns a shot transition into an ffmpeg filter between two inputs
type Effect interface {
	GenerateFilter(in1, in2, out string, offset float64) string
	Duration() float64
}

// XfadeEffect blends two clips with ffmpeg's xfade filter
type XfadeEffect struct {
	Transition string
	Fade       float64
}

func (e *XfadeEffect) GenerateFilter(in1, in2, out string, offset float64) string {
	return fmt.Sprintf("%s%sxfade=transition=%s:duration=%f:offset=%f%s", in1, in2, e.Transition, e.Fade, offset, out)
}

func (e *XfadeEffect) Duration() float64 { return e.Fade }

// CutEffect joins two clips without overlap
type CutEffect struct{}

func (e *CutEffect) GenerateFilter(in1, in2, out string, offset float64) string {
	return fmt.Sprintf("%s%sconcat=n=2:v=1:a=0%s", in1, in2, out)
}

func (e *CutEffect) Duration() float64 { return 0 }

// ForTransition maps a shot transition to its effect
func ForTransition(t director.Transition, fade float64) Effect {
	if fade <= 0 {
		fade = DefaultFadeDuration
	}
	switch t {
	case director.Dissolve:
		return &XfadeEffect{Transition: "dissolve", Fade: fade}
	case director.Fade:
		return &XfadeEffect{Transition: "fadeblack", Fade: fade}
	case director.Wipe:
		return &XfadeEffect{Transition: "wipeleft", Fade: fade}
	default:
		return &CutEffect{}
	}
}
