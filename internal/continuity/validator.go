// Package continuity checks adjacent cuts of a shot list against basic
// editing rules before any frame is generated.
package continuity

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ivlev/script2video/internal/director"
)

type Violation struct {
	ShotIdx      int    `json:"shot_idx"`
	Kind         Kind   `json:"kind"`
	Message      string `json:"message"`
	SuggestedFix string `json:"suggested_fix"`
}

type Report struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations"`
}

// ViolationError is returned when a report blocks generation.
type ViolationError struct {
	Report Report
}

func (e *ViolationError) Error() string {
	parts := make([]string, 0, len(e.Report.Violations))
	for _, v := range e.Report.Violations {
		parts = append(parts, fmt.Sprintf("shot %d %s", v.ShotIdx, v.Kind))
	}
	return fmt.Sprintf("continuity: %d violation(s): %s", len(e.Report.Violations), strings.Join(parts, ", "))
}

// Err returns a *ViolationError for a failed report and nil otherwise.
func (r Report) Err() error {
	if r.Passed {
		return nil
	}
	return &ViolationError{Report: r}
}

// Validate runs the default rules over every adjacent pair of shots. The
// camera tree decides which cuts are between different cameras; shots
// missing from the tree fall back to their own camera id.
func Validate(shots []director.Shot, cameras []director.Camera) Report {
	return ValidateWith(DefaultRules(), shots, cameras)
}

// ValidateWith is Validate with an explicit rule set. Violations are
// ordered by cut, then by rule order.
func ValidateWith(rules []Rule, shots []director.Shot, cameras []director.Camera) Report {
	owner := make(map[int]int)
	for _, c := range cameras {
		for _, idx := range c.ActiveShotIdxs {
			owner[idx] = c.ID
		}
	}
	cameraOf := func(s director.Shot) int {
		if id, ok := owner[s.Idx]; ok {
			return id
		}
		return s.CameraID
	}

	violations := []Violation{}
	for i := 0; i+1 < len(shots); i++ {
		p := Pair{A: shots[i], B: shots[i+1], CameraA: cameraOf(shots[i]), CameraB: cameraOf(shots[i+1])}
		for _, rule := range rules {
			if v := rule.Check(p); v != nil {
				violations = append(violations, *v)
			}
		}
	}

	return Report{Passed: len(violations) == 0, Violations: violations}
}

// WriteReport stores the report as indented JSON
func WriteReport(report Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
