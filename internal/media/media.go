// Package media declares the external generation capabilities the
// scheduler and the video stage depend on.
package media

import (
	"context"
)

// Reference is an image on disk together with what it shows.
type Reference struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Image is an encoded image returned by a synthesizer.
type Image struct {
	Data     []byte
	MIMEType string
}

type SelectionRequest struct {
	Available []Reference
	Target    string
	Style     string
	Scene     string
}

// Selection is the reference selector's pick and the prompt it wrote for them.
type Selection struct {
	References []Reference `json:"ref_images"`
	Prompt     string      `json:"text_prompt"`
}

type ReferenceSelector interface {
	SelectReferences(ctx context.Context, req SelectionRequest) (Selection, error)
}

type ImageSynthesizer interface {
	SynthesizeImage(ctx context.Context, prompt string, refs []Reference, size string) (Image, error)
}

type TransitionRequest struct {
	FromDesc  string
	ToDesc    string
	FromFrame string
}

// TransitionSynthesizer renders a short clip that cuts from one shot to the next.
type TransitionSynthesizer interface {
	SynthesizeTransition(ctx context.Context, req TransitionRequest) ([]byte, error)
}

type Verdict struct {
	Index  int
	Reason string
}

// CandidateSelector picks the best of several candidate images for a target description.
type CandidateSelector interface {
	SelectBest(ctx context.Context, refs []Reference, target string, candidates []string) (Verdict, error)
}

type VideoRequest struct {
	Prompt     string
	FirstFrame string
	LastFrame  string
}

type VideoSynthesizer interface {
	SynthesizeVideo(ctx context.Context, req VideoRequest) ([]byte, error)
}
