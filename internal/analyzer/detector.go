package analyzer

import "image"

// Cut marks the first frame of a new sub-scene in a sequence of frames
type Cut struct {
	Index int     // Index of the first frame after the cut
	Score float64 // Mean absolute luma difference, 0-255
}

// Detector is the interface for shot-boundary detection strategies
type Detector interface {
	DetectCuts(frames []image.Image) ([]Cut, error)
}
