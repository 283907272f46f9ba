package director

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProposer struct {
	proposal Proposal
	err      error
	calls    int
}

func (s *stubProposer) ProposeCameraTree(ctx context.Context, cameras []Camera, shots []Shot) (Proposal, error) {
	s.calls++
	return s.proposal, s.err
}

func shot(idx, cam int, size ShotSize, dir Direction) Shot {
	return Shot{
		Idx:             idx,
		CameraID:        cam,
		ShotSize:        size,
		Angle:           EyeLevel,
		FocalLengthMM:   35,
		ScreenDirection: dir,
	}
}

func TestGroupCameras(t *testing.T) {
	shots := []Shot{
		shot(0, 2, Long, Static),
		shot(1, 0, Medium, Static),
		shot(2, 2, Long, Static),
		shot(3, 1, CloseUp, Static),
	}

	cameras := GroupCameras(shots)
	require.Len(t, cameras, 3)
	assert.Equal(t, 2, cameras[0].ID)
	assert.Equal(t, []int{0, 2}, cameras[0].ActiveShotIdxs)
	assert.Equal(t, 0, cameras[1].ID)
	assert.Equal(t, 1, cameras[2].ID)
}

func TestBuildCameraTreeFallback(t *testing.T) {
	// Camera 1 can hang off shot 0 or shot 1 of camera 0; shot 1 is closer.
	shots := []Shot{
		shot(0, 0, Long, LeftToRight),
		shot(1, 0, Long, LeftToRight),
		shot(2, 1, Medium, LeftToRight),
	}

	d := NewDirector(nil, zap.NewNop())
	tree, err := d.BuildCameraTree(context.Background(), shots)
	require.NoError(t, err)
	require.Len(t, tree, 2)

	assert.False(t, tree[0].HasParent())
	require.True(t, tree[1].HasParent())
	assert.Equal(t, 0, *tree[1].ParentCameraID)
	assert.Equal(t, 1, *tree[1].ParentShotIdx)
	assert.True(t, tree[1].FullyCoversChild)
	assert.Empty(t, tree[1].MissingInfo)
}

func TestBuildCameraTreeCutAway(t *testing.T) {
	shots := []Shot{
		shot(0, 0, Long, LeftToRight),
		shot(1, 0, Long, LeftToRight),
		shot(2, 1, Medium, LeftToRight),
		shot(3, 0, Long, LeftToRight),
	}

	d := NewDirector(nil, zap.NewNop())
	tree, err := d.BuildCameraTree(context.Background(), shots)
	require.NoError(t, err)
	require.Len(t, tree, 2)

	assert.Equal(t, 0, tree[0].ID)
	assert.Equal(t, []int{0, 1, 3}, tree[0].ActiveShotIdxs)
	assert.False(t, tree[0].HasParent())

	assert.Equal(t, 1, tree[1].ID)
	require.True(t, tree[1].HasParent())
	assert.Equal(t, 0, *tree[1].ParentCameraID)
	assert.Equal(t, 1, *tree[1].ParentShotIdx)
}

func TestFallbackPenalties(t *testing.T) {
	tests := []struct {
		name   string
		parent Shot
		child  Shot
		want   int
	}{
		{"same framing", shot(0, 0, Medium, Static), shot(2, 1, Medium, Static), 2},
		{"wider parent is free", shot(0, 0, Long, Static), shot(1, 1, CloseUp, Static), 1},
		{"narrower parent", shot(0, 0, CloseUp, Static), shot(1, 1, Medium, Static), 1 + 3*2},
		{"direction change", shot(0, 0, Medium, LeftToRight), shot(1, 1, Medium, RightToLeft), 1 + 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fallbackScore(tt.parent, tt.child))
		})
	}
}

func TestFallbackPrefersNearestShot(t *testing.T) {
	shots := []Shot{
		shot(0, 5, Medium, Static),
		shot(1, 3, Medium, Static),
		shot(2, 9, Medium, Static),
		shot(3, 5, Medium, Static),
		shot(4, 3, Medium, Static),
		shot(5, 7, Medium, Static),
	}

	tree, err := RepairTree(GroupCameras(shots), shots, Proposal{})
	require.NoError(t, err)

	byID := map[int]Camera{}
	for _, c := range tree {
		byID[c.ID] = c
	}
	assert.Nil(t, byID[5].ParentCameraID)
	assert.Equal(t, 3, *byID[9].ParentCameraID)
	assert.Equal(t, 1, *byID[9].ParentShotIdx)
	assert.Equal(t, 3, *byID[7].ParentCameraID)
	assert.Equal(t, 4, *byID[7].ParentShotIdx)
}

func TestFallbackEqualScoresUseLowerCameraID(t *testing.T) {
	shots := []Shot{
		shot(0, 0, Medium, Static),
		shot(1, 8, Medium, LeftToRight),
		shot(2, 3, CloseUp, Static),
		shot(3, 5, Medium, Static),
	}
	shots[0].ShotSize = ExtremeCloseUp
	// Child camera 5 starts at shot 3.
	//   camera 0 shot 0: gap 3 + 3*(6-3) = 12
	//   camera 3 shot 2: gap 1 + 3*(5-3) = 7
	//   camera 8 shot 1: gap 2 + 5 = 7
	tree, err := RepairTree(GroupCameras(shots), shots, Proposal{})
	require.NoError(t, err)

	child := tree[3]
	require.Equal(t, 5, child.ID)
	assert.Equal(t, 3, *child.ParentCameraID, "camera 3 and 8 tie at 7, lower id wins")
	assert.Equal(t, 2, *child.ParentShotIdx)
}

func TestProposalAppliedVerbatim(t *testing.T) {
	shots := []Shot{
		shot(0, 0, Long, Static),
		shot(1, 1, Medium, Static),
		shot(2, 0, Long, Static),
		shot(3, 2, Medium, Static),
	}
	proposer := &stubProposer{proposal: Proposal{Items: []*ParentProposal{
		nil,
		{ParentCameraID: 0, ParentShotIdx: 0, Reason: "wide master", FullyCoversChild: false, MissingInfo: "the desk lamp"},
		{ParentCameraID: 1, ParentShotIdx: 1, Reason: "reverse", FullyCoversChild: true},
	}}}

	d := NewDirector(proposer, zap.NewNop())
	tree, err := d.BuildCameraTree(context.Background(), shots)
	require.NoError(t, err)
	assert.Equal(t, 1, proposer.calls)

	assert.Equal(t, 0, *tree[1].ParentCameraID)
	assert.Equal(t, "wide master", tree[1].Reason)
	assert.False(t, tree[1].FullyCoversChild)
	assert.Equal(t, "the desk lamp", tree[1].MissingInfo)
	assert.True(t, tree[1].PartialCoverage())

	assert.Equal(t, 1, *tree[2].ParentCameraID)
	assert.Equal(t, 1, *tree[2].ParentShotIdx)
	assert.True(t, tree[2].FullyCoversChild)
}

func TestProposalLengthMismatchIsDiscarded(t *testing.T) {
	shots := []Shot{
		shot(0, 0, Long, Static),
		shot(1, 1, Medium, Static),
	}
	proposer := &stubProposer{proposal: Proposal{Items: []*ParentProposal{nil}}}

	tree, err := NewDirector(proposer, zap.NewNop()).BuildCameraTree(context.Background(), shots)
	require.NoError(t, err)
	assert.Contains(t, tree[1].Reason, "fallback")
}

func TestProposalErrorFallsBack(t *testing.T) {
	shots := []Shot{
		shot(0, 0, Long, Static),
		shot(1, 1, Medium, Static),
	}
	proposer := &stubProposer{err: errors.New("quota exceeded")}

	tree, err := NewDirector(proposer, zap.NewNop()).BuildCameraTree(context.Background(), shots)
	require.NoError(t, err)
	assert.Equal(t, 0, *tree[1].ParentCameraID)
}

func TestRootParentIsCleared(t *testing.T) {
	shots := []Shot{
		shot(0, 0, Long, Static),
		shot(1, 1, Medium, Static),
	}
	proposal := Proposal{Items: []*ParentProposal{
		{ParentCameraID: 1, ParentShotIdx: 1, Reason: "bogus"},
		{ParentCameraID: 0, ParentShotIdx: 0, Reason: "master", FullyCoversChild: true},
	}}

	tree, err := RepairTree(GroupCameras(shots), shots, proposal)
	require.NoError(t, err)
	assert.Nil(t, tree[0].ParentCameraID)
	assert.Nil(t, tree[0].ParentShotIdx)
}

func TestCycleIsRejected(t *testing.T) {
	shots := []Shot{
		shot(0, 0, Long, Static),
		shot(1, 1, Medium, Static),
		shot(2, 2, Medium, Static),
	}
	proposal := Proposal{Items: []*ParentProposal{
		nil,
		{ParentCameraID: 2, ParentShotIdx: 2},
		{ParentCameraID: 1, ParentShotIdx: 1},
	}}

	_, err := RepairTree(GroupCameras(shots), shots, proposal)
	var treeErr *TreeConstructionError
	require.ErrorAs(t, err, &treeErr)
	assert.Contains(t, treeErr.Error(), "cycle")
}

func TestInvalidProposalEntriesAreDropped(t *testing.T) {
	shots := []Shot{
		shot(0, 0, Long, Static),
		shot(1, 1, Medium, Static),
	}
	proposal := Proposal{Items: []*ParentProposal{
		nil,
		// Camera 0 never films shot 1.
		{ParentCameraID: 0, ParentShotIdx: 1, Reason: "wrong shot"},
	}}

	tree, err := RepairTree(GroupCameras(shots), shots, proposal)
	require.NoError(t, err)
	assert.Equal(t, 0, *tree[1].ParentShotIdx)
	assert.Contains(t, tree[1].Reason, "fallback")
}

func TestCoverageRecheck(t *testing.T) {
	tests := []struct {
		name        string
		parentSize  ShotSize
		parentFocal float64
		childFocal  float64
		wantCovers  bool
		wantNote    string
	}{
		{"small change", Medium, 35, 50, true, ""},
		{"size gap", ExtremeLong, 35, 35, false, "Large change detected (size_gap=5, focal_ratio~1.0); insert transition."},
		{"focal ratio", CloseUp, 24, 100, false, "Large change detected (size_gap=0, focal_ratio~4.2); insert transition."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := shot(0, 0, tt.parentSize, Static)
			parent.FocalLengthMM = tt.parentFocal
			child := shot(1, 1, CloseUp, Static)
			child.FocalLengthMM = tt.childFocal

			tree, err := RepairTree(GroupCameras([]Shot{parent, child}), []Shot{parent, child}, Proposal{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCovers, tree[1].FullyCoversChild)
			assert.Equal(t, tt.wantNote, tree[1].MissingInfo)
		})
	}
}

func TestCoverageNoteIsAppended(t *testing.T) {
	shots := []Shot{
		shot(0, 0, ExtremeLong, Static),
		shot(1, 1, CloseUp, Static),
	}
	proposal := Proposal{Items: []*ParentProposal{
		nil,
		{ParentCameraID: 0, ParentShotIdx: 0, FullyCoversChild: true, MissingInfo: "the red scarf"},
	}}

	tree, err := RepairTree(GroupCameras(shots), shots, proposal)
	require.NoError(t, err)
	assert.False(t, tree[1].FullyCoversChild)
	assert.Equal(t, "the red scarf; Large change detected (size_gap=5, focal_ratio~1.0); insert transition.", tree[1].MissingInfo)
}

func TestRepairTreeIsDeterministic(t *testing.T) {
	shots := []Shot{
		shot(0, 0, Long, LeftToRight),
		shot(1, 1, Medium, LeftToRight),
		shot(2, 2, CloseUp, RightToLeft),
		shot(3, 0, Long, LeftToRight),
		shot(4, 3, MediumClose, Static),
		shot(5, 2, CloseUp, RightToLeft),
	}

	first, err := RepairTree(GroupCameras(shots), shots, Proposal{})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := RepairTree(GroupCameras(shots), shots, Proposal{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	for _, c := range first {
		if c.HasParent() {
			assert.LessOrEqual(t, *c.ParentShotIdx, c.FirstShot(), "camera %d parent must already exist", c.ID)
		}
	}
}

func TestCatalogValidate(t *testing.T) {
	valid := &Catalog{
		Characters: []Character{{Idx: 0, Identifier: "Alice"}},
		Shots: []Shot{
			{Idx: 0, FirstFrameCharacters: []int{0}},
			{Idx: 1},
		},
	}
	require.NoError(t, valid.Validate())

	gap := &Catalog{Shots: []Shot{{Idx: 0}, {Idx: 2}}}
	assert.Error(t, gap.Validate())

	unknown := &Catalog{Shots: []Shot{{Idx: 0, FirstFrameCharacters: []int{4}}}}
	assert.Error(t, unknown.Validate())

	assert.Error(t, (&Catalog{}).Validate())
}

func TestCatalogWriteRead(t *testing.T) {
	catalog := &Catalog{
		Version: "1.0",
		Style:   "noir",
		Shots: []Shot{
			{Idx: 0, CameraID: 0, ShotSize: Long, FirstFrameFacing: map[int]Facing{0: Side}},
			{Idx: 1, CameraID: 1, ShotSize: CloseUp, VariationType: VariationLarge},
		},
	}

	path := t.TempDir() + "/catalog.yaml"
	require.NoError(t, WriteCatalog(catalog, path))

	read, err := ReadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, catalog, read)
	assert.True(t, read.Shots[1].NeedsLastFrame())
	assert.Equal(t, Side, read.Shots[0].FrameFacing(FirstFrame, 0))
	assert.Equal(t, Front, read.Shots[0].FrameFacing(FirstFrame, 3))
}

func TestReadCatalogJSONFacing(t *testing.T) {
	data := `{
  "version": "1.0",
  "shots": [
    {
      "idx": 0,
      "camera_id": 0,
      "shot_size": "medium",
      "variation_type": "large",
      "first_frame_characters": [0, 1],
      "first_frame_facing": {"0": "back", "1": "side"},
      "last_frame_facing": {"1": "front"}
    }
  ]
}`
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	read, err := ReadCatalog(path)
	require.NoError(t, err)
	require.Len(t, read.Shots, 1)
	assert.Equal(t, map[int]Facing{0: Back, 1: Side}, read.Shots[0].FirstFrameFacing)
	assert.Equal(t, Back, read.Shots[0].FrameFacing(FirstFrame, 0))
	assert.Equal(t, Front, read.Shots[0].FrameFacing(LastFrame, 1))
}

func TestCatalogWriteReadJSON(t *testing.T) {
	catalog := &Catalog{
		Version: "1.0",
		Shots: []Shot{
			{Idx: 0, CameraID: 0, ShotSize: Long, LastFrameFacing: map[int]Facing{2: Back}},
		},
	}

	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, WriteCatalog(catalog, path))

	read, err := ReadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, catalog, read)
}

func TestRanksDefault(t *testing.T) {
	assert.Equal(t, 3, ShotSize("macro").Rank())
	assert.Equal(t, 2, Angle("overhead").Rank())
	assert.Equal(t, 6, ExtremeCloseUp.Rank())
	assert.Equal(t, 5, Dutch.Rank())
}
