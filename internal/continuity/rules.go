package continuity

import (
	"fmt"
	"math"

	"github.com/ivlev/script2video/internal/director"
)

// Kind identifies the editing rule a violation breaks.
type Kind string

const (
	Axis180   Kind = "axis_180"
	JumpCut30 Kind = "jump_cut_30"
)

// JumpCutFocalThresholdMM is the focal difference below which two framings
// read as the same lens.
const JumpCutFocalThresholdMM = 10.0

// Pair is a cut between two temporally adjacent shots.
type Pair struct {
	A, B    director.Shot
	CameraA int
	CameraB int
}

// Rule checks one cut.
type Rule interface {
	Name() Kind
	Check(p Pair) *Violation
}

// AxisRule flags a left/right screen direction flip on a hard cut.
type AxisRule struct{}

func (AxisRule) Name() Kind { return Axis180 }

func (AxisRule) Check(p Pair) *Violation {
	a, b := p.A, p.B
	if !a.ScreenDirection.Lateral() || !b.ScreenDirection.Lateral() {
		return nil
	}
	if a.ScreenDirection == b.ScreenDirection {
		return nil
	}
	if a.TransitionOut.Soft() || b.TransitionIn.Soft() {
		return nil
	}

	return &Violation{
		ShotIdx:      b.Idx,
		Kind:         Axis180,
		Message:      fmt.Sprintf("Screen direction flips from %s to %s at cut between shots %d->%d.", a.ScreenDirection, b.ScreenDirection, a.Idx, b.Idx),
		SuggestedFix: "Keep one motion/eyeline direction (e.g. L_to_R throughout), cut through a neutral-axis or establishing shot first, or soften the flip with a dissolve/fade/wipe.",
	}
}

// JumpCutRule flags a cut between different cameras whose framing is
// nearly identical.
type JumpCutRule struct {
	FocalThresholdMM float64
}

func (JumpCutRule) Name() Kind { return JumpCut30 }

func (r JumpCutRule) Check(p Pair) *Violation {
	a, b := p.A, p.B
	if p.CameraA == p.CameraB {
		return nil
	}

	sizeDiff := absInt(a.ShotSize.Rank() - b.ShotSize.Rank())
	angleDiff := absInt(a.Angle.Rank() - b.Angle.Rank())
	lensDiff := math.Abs(a.FocalLengthMM - b.FocalLengthMM)

	threshold := r.FocalThresholdMM
	if threshold <= 0 {
		threshold = JumpCutFocalThresholdMM
	}

	if sizeDiff != 0 || angleDiff > 0 || lensDiff >= threshold || a.ScreenDirection != b.ScreenDirection {
		return nil
	}

	return &Violation{
		ShotIdx:      b.Idx,
		Kind:         JumpCut30,
		Message:      fmt.Sprintf("Possible jump cut: consecutive shots %d->%d have nearly identical size/angle/lens/direction.", a.Idx, b.Idx),
		SuggestedFix: "Change the second shot's angle or size (e.g. medium -> close_up or eye_level -> low), or add a clear camera move, to avoid a small-angle jump cut.",
	}
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
