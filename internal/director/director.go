package director

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Policy constants of the camera tree.
const (
	// RootShot is the global shot whose camera is always the root of the tree.
	RootShot = 0
	// PreferLowerCameraID breaks equal fallback scores towards the lower
	// parent camera id.
	PreferLowerCameraID = true

	WidthPenalty     = 3
	DirectionPenalty = 5

	// A parent further than this from the child needs a transition bridge.
	MaxSizeGap    = 2
	MaxFocalRatio = 3.0
)

// ParentProposal is the reasoning service's suggestion for one camera.
type ParentProposal struct {
	ParentCameraID   int
	ParentShotIdx    int
	Reason           string
	FullyCoversChild bool
	MissingInfo      string
}

// Proposal holds one entry per camera in camera order. A nil entry means
// the service proposed no parent.
type Proposal struct {
	Items []*ParentProposal
}

// TreeProposer is the advisory reasoning service behind stage one.
type TreeProposer interface {
	ProposeCameraTree(ctx context.Context, cameras []Camera, shots []Shot) (Proposal, error)
}

// Director builds the camera tree of a shot catalog
type Director struct {
	proposer TreeProposer
	logger   *zap.Logger
}

// NewDirector creates a Director. A nil proposer skips stage one.
func NewDirector(proposer TreeProposer, logger *zap.Logger) *Director {
	return &Director{
		proposer: proposer,
		logger:   logger,
	}
}

// BuildCameraTree groups shots into cameras, asks the proposer for parent
// links and repairs the result into a single-rooted tree.
func (d *Director) BuildCameraTree(ctx context.Context, shots []Shot) ([]Camera, error) {
	if len(shots) == 0 {
		return nil, &TreeConstructionError{CameraID: -1, Reason: "no shots"}
	}

	cameras := GroupCameras(shots)
	proposal := d.propose(ctx, cameras, shots)

	tree, err := RepairTree(cameras, shots, proposal)
	if err != nil {
		return nil, err
	}

	for _, c := range tree {
		if !c.HasParent() {
			d.logger.Info("root camera", zap.Int("camera", c.ID), zap.Ints("shots", c.ActiveShotIdxs))
			continue
		}
		d.logger.Info("camera parent",
			zap.Int("camera", c.ID),
			zap.Int("parent_camera", *c.ParentCameraID),
			zap.Int("parent_shot", *c.ParentShotIdx),
			zap.Bool("full_coverage", c.FullyCoversChild),
			zap.String("reason", c.Reason),
		)
	}
	return tree, nil
}

func (d *Director) propose(ctx context.Context, cameras []Camera, shots []Shot) Proposal {
	if d.proposer == nil || len(cameras) < 2 {
		return Proposal{}
	}

	proposal, err := d.proposer.ProposeCameraTree(ctx, cameras, shots)
	if err != nil {
		d.logger.Warn("camera tree proposal failed, using fallback only", zap.Error(err))
		return Proposal{}
	}
	if len(proposal.Items) != len(cameras) {
		d.logger.Warn("camera tree proposal discarded",
			zap.Int("items", len(proposal.Items)),
			zap.Int("cameras", len(cameras)),
		)
		return Proposal{}
	}
	return proposal
}

// RepairTree applies a proposal and fills in the parents it left out. It
// is deterministic: the same cameras, shots and proposal always give the
// same tree.
func RepairTree(cameras []Camera, shots []Shot, proposal Proposal) ([]Camera, error) {
	tree := make([]Camera, len(cameras))
	byID := make(map[int]int, len(cameras))
	for i, c := range cameras {
		tree[i] = Camera{ID: c.ID, ActiveShotIdxs: append([]int(nil), c.ActiveShotIdxs...)}
		byID[c.ID] = i
	}

	shotByIdx := make(map[int]Shot, len(shots))
	for _, s := range shots {
		shotByIdx[s.Idx] = s
	}

	if len(proposal.Items) == len(tree) {
		for i, item := range proposal.Items {
			if item == nil {
				continue
			}
			p, ok := byID[item.ParentCameraID]
			if !ok || p == i || !tree[p].films(item.ParentShotIdx) {
				continue
			}
			tree[i].ParentCameraID = intPtr(item.ParentCameraID)
			tree[i].ParentShotIdx = intPtr(item.ParentShotIdx)
			tree[i].Reason = item.Reason
			tree[i].FullyCoversChild = item.FullyCoversChild
			tree[i].MissingInfo = item.MissingInfo
		}
	}

	root := -1
	for i, c := range tree {
		if c.films(RootShot) {
			root = i
			break
		}
	}
	if root < 0 {
		return nil, &TreeConstructionError{CameraID: -1, Reason: fmt.Sprintf("no camera films shot %d", RootShot)}
	}
	tree[root].ParentCameraID = nil
	tree[root].ParentShotIdx = nil
	tree[root].FullyCoversChild = false
	tree[root].MissingInfo = ""

	order := make([]int, len(tree))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return tree[order[a]].ID < tree[order[b]].ID })

	for _, i := range order {
		if i == root || tree[i].HasParent() {
			continue
		}
		if err := assignFallbackParent(tree, order, i, shotByIdx); err != nil {
			return nil, err
		}
	}

	for i := range tree {
		if tree[i].HasParent() {
			recheckCoverage(&tree[i], shotByIdx)
		}
	}

	if err := validateTree(tree, root); err != nil {
		return nil, err
	}
	return tree, nil
}

type candidate struct {
	cameraID int
	shotIdx  int
	score    int
}

// assignFallbackParent picks the causally valid parent shot with the lowest
// score for tree[child].
func assignFallbackParent(tree []Camera, order []int, child int, shots map[int]Shot) error {
	c := &tree[child]
	first := c.FirstShot()
	childShot := shots[first]

	var best *candidate
	for _, p := range order {
		if p == child {
			continue
		}
		for _, idx := range tree[p].ActiveShotIdxs {
			if idx > first {
				break
			}
			score := fallbackScore(shots[idx], childShot)
			if best == nil || score < best.score || (score == best.score && preferCamera(tree[p].ID, best.cameraID)) {
				best = &candidate{cameraID: tree[p].ID, shotIdx: idx, score: score}
			}
		}
	}

	if best == nil {
		return &TreeConstructionError{CameraID: c.ID, Reason: fmt.Sprintf("no parent shot at or before shot %d", first)}
	}

	c.ParentCameraID = intPtr(best.cameraID)
	c.ParentShotIdx = intPtr(best.shotIdx)
	c.Reason = fmt.Sprintf("fallback: nearest earlier shot %d of camera %d (score=%d)", best.shotIdx, best.cameraID, best.score)
	c.FullyCoversChild = true
	c.MissingInfo = ""
	return nil
}

// fallbackScore prefers close, wider, same-direction parent shots.
func fallbackScore(parent, child Shot) int {
	score := abs(child.Idx - parent.Idx)
	if gap := parent.ShotSize.Rank() - child.ShotSize.Rank(); gap > 0 {
		score += WidthPenalty * gap
	}
	if parent.ScreenDirection != child.ScreenDirection {
		score += DirectionPenalty
	}
	return score
}

func preferCamera(id, current int) bool {
	if PreferLowerCameraID {
		return id < current
	}
	return id > current
}

func recheckCoverage(c *Camera, shots map[int]Shot) {
	parent := shots[*c.ParentShotIdx]
	child := shots[c.FirstShot()]

	sizeGap := abs(child.ShotSize.Rank() - parent.ShotSize.Rank())
	ratio := focalRatio(child.FocalLengthMM, parent.FocalLengthMM)
	if sizeGap <= MaxSizeGap && ratio <= MaxFocalRatio {
		return
	}

	c.FullyCoversChild = false
	note := fmt.Sprintf("Large change detected (size_gap=%d, focal_ratio~%.1f); insert transition.", sizeGap, ratio)
	if c.MissingInfo == "" {
		c.MissingInfo = note
	} else {
		c.MissingInfo = strings.Join([]string{c.MissingInfo, note}, "; ")
	}
}

func focalRatio(a, b float64) float64 {
	if a <= 0 {
		a = 1
	}
	if b <= 0 {
		b = 1
	}
	return math.Max(a, b) / math.Min(a, b)
}

func validateTree(tree []Camera, root int) error {
	byID := make(map[int]int, len(tree))
	for i, c := range tree {
		byID[c.ID] = i
	}

	for i, c := range tree {
		if !c.HasParent() && i != root {
			return &TreeConstructionError{CameraID: c.ID, Reason: fmt.Sprintf("second root besides camera %d", tree[root].ID)}
		}
	}

	for _, c := range tree {
		visited := map[int]bool{}
		cur := c
		for cur.HasParent() {
			if visited[cur.ID] {
				return &TreeConstructionError{CameraID: c.ID, Reason: "parent chain forms a cycle"}
			}
			visited[cur.ID] = true
			next, ok := byID[*cur.ParentCameraID]
			if !ok {
				return &TreeConstructionError{CameraID: cur.ID, Reason: fmt.Sprintf("unknown parent camera %d", *cur.ParentCameraID)}
			}
			cur = tree[next]
		}
		if cur.ID != tree[root].ID {
			return &TreeConstructionError{CameraID: c.ID, Reason: "does not reach the root camera"}
		}
	}
	return nil
}
