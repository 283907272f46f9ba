package director

import (
	"fmt"
	"sort"
)

// Camera is one camera position of the script and its place in the camera tree.
type Camera struct {
	ID               int    `json:"id"`
	ActiveShotIdxs   []int  `json:"active_shot_idxs"`
	ParentCameraID   *int   `json:"parent_camera_id"`
	ParentShotIdx    *int   `json:"parent_shot_idx"`
	Reason           string `json:"reason,omitempty"`
	FullyCoversChild bool   `json:"is_parent_fully_covers_child"`
	MissingInfo      string `json:"missing_info,omitempty"`
}

// FirstShot returns the earliest shot the camera films.
func (c Camera) FirstShot() int {
	return c.ActiveShotIdxs[0]
}

func (c Camera) HasParent() bool {
	return c.ParentCameraID != nil && c.ParentShotIdx != nil
}

// PartialCoverage reports whether the parent frame alone cannot stand in for
// the camera's first frame.
func (c Camera) PartialCoverage() bool {
	return !c.FullyCoversChild || c.MissingInfo != ""
}

func (c Camera) films(shotIdx int) bool {
	for _, idx := range c.ActiveShotIdxs {
		if idx == shotIdx {
			return true
		}
	}
	return false
}

// GroupCameras partitions shots by camera id. Cameras are ordered by their
// first appearance and list their shots in ascending order.
func GroupCameras(shots []Shot) []Camera {
	pos := map[int]int{}
	var cameras []Camera
	for _, s := range shots {
		i, ok := pos[s.CameraID]
		if !ok {
			i = len(cameras)
			pos[s.CameraID] = i
			cameras = append(cameras, Camera{ID: s.CameraID})
		}
		cameras[i].ActiveShotIdxs = append(cameras[i].ActiveShotIdxs, s.Idx)
	}
	for i := range cameras {
		sort.Ints(cameras[i].ActiveShotIdxs)
	}
	return cameras
}

// TreeConstructionError reports a camera tree that cannot be made acyclic
// with a single root.
type TreeConstructionError struct {
	CameraID int
	Reason   string
}

func (e *TreeConstructionError) Error() string {
	if e.CameraID < 0 {
		return fmt.Sprintf("camera tree: %s", e.Reason)
	}
	return fmt.Sprintf("camera tree: camera %d: %s", e.CameraID, e.Reason)
}

func intPtr(v int) *int {
	return &v
}
