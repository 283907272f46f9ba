package analyzer

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ContentDetector finds hard cuts by comparing consecutive frames
type ContentDetector struct {
	Threshold     float64 // Mean luma difference that counts as a cut
	MinSceneLen   int     // Minimum frames between two cuts
	AnalysisWidth int     // Frames are downscaled to this width before comparing
}

// NewContentDetector creates a content detector with default settings
func NewContentDetector() *ContentDetector {
	return &ContentDetector{
		Threshold:     30.0,
		MinSceneLen:   3,
		AnalysisWidth: 160,
	}
}

// DetectCuts returns the cuts found in frames, in order
func (d *ContentDetector) DetectCuts(frames []image.Image) ([]Cut, error) {
	if len(frames) < 2 {
		return nil, nil
	}

	var prev *image.Gray
	cuts := []Cut{}
	lastCut := 0

	for i, frame := range frames {
		if frame == nil {
			return nil, fmt.Errorf("frame %d is nil", i)
		}
		// Step 1: Downscale and convert to grayscale
		gray := toGrayscale(d.downscale(frame))

		if prev != nil {
			// Step 2: Compare with previous frame
			score := meanAbsDiff(prev, gray)
			if score >= d.Threshold && i-lastCut >= d.MinSceneLen {
				cuts = append(cuts, Cut{Index: i, Score: score})
				lastCut = i
			}
		}
		prev = gray
	}

	return cuts, nil
}

// downscale resizes img to AnalysisWidth keeping the aspect ratio
func (d *ContentDetector) downscale(img image.Image) image.Image {
	b := img.Bounds()
	if d.AnalysisWidth <= 0 || b.Dx() <= d.AnalysisWidth {
		return img
	}
	h := b.Dy() * d.AnalysisWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, d.AnalysisWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// toGrayscale converts an image to grayscale
func toGrayscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x-bounds.Min.X, y-bounds.Min.Y, color.GrayModel.Convert(img.At(x, y)))
		}
	}

	return gray
}

// meanAbsDiff compares two grayscale frames over their common area
func meanAbsDiff(a, b *image.Gray) float64 {
	w := min(a.Bounds().Dx(), b.Bounds().Dx())
	h := min(a.Bounds().Dy(), b.Bounds().Dy())
	if w == 0 || h == 0 {
		return 0
	}

	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			diff := int(a.GrayAt(x, y).Y) - int(b.GrayAt(x, y).Y)
			if diff < 0 {
				diff = -diff
			}
			sum += float64(diff)
		}
	}

	return sum / float64(w*h)
}
