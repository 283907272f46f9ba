// Package store lays out run artifacts under a working directory. Every
// artifact is write-once: a file that already exists is proof of completion
// and is never rewritten.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ivlev/script2video/internal/director"
)

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "shots"), 0755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) CameraTreePath() string       { return filepath.Join(s.root, "camera_tree.json") }
func (s *Store) ContinuityReportPath() string { return filepath.Join(s.root, "continuity_report.json") }
func (s *Store) TimelinePath() string         { return filepath.Join(s.root, "timeline.json") }
func (s *Store) EDLPath() string              { return filepath.Join(s.root, "timeline.edl") }
func (s *Store) FinalVideoPath() string       { return filepath.Join(s.root, "final_video.mp4") }
func (s *Store) LedgerPath() string           { return filepath.Join(s.root, "ledger.db") }

func (s *Store) ShotDir(idx int) string {
	return filepath.Join(s.root, "shots", fmt.Sprintf("%d", idx))
}

func (s *Store) FramePath(idx int, kind director.FrameKind) string {
	return filepath.Join(s.ShotDir(idx), string(kind)+".png")
}

func (s *Store) CandidatePath(idx int, kind director.FrameKind, k int) string {
	return filepath.Join(s.ShotDir(idx), fmt.Sprintf("%s_candidate_%d.png", kind, k))
}

func (s *Store) SelectorOutputPath(idx int, kind director.FrameKind) string {
	return filepath.Join(s.ShotDir(idx), fmt.Sprintf("%s_selector_output.json", kind))
}

func (s *Store) SelectionReasonPath(idx int, kind director.FrameKind) string {
	return filepath.Join(s.ShotDir(idx), fmt.Sprintf("%s_selection_reason.json", kind))
}

func (s *Store) TransitionClipPath(idx, parentShot int) string {
	return filepath.Join(s.ShotDir(idx), fmt.Sprintf("transition_video_from_shot_%d.mp4", parentShot))
}

func (s *Store) NewCameraImagePath(idx, cameraID int) string {
	return filepath.Join(s.ShotDir(idx), fmt.Sprintf("new_camera_%d.png", cameraID))
}

func (s *Store) VideoPath(idx int) string {
	return filepath.Join(s.ShotDir(idx), "video.mp4")
}

func (s *Store) HasFrame(idx int, kind director.FrameKind) bool {
	return Exists(s.FramePath(idx, kind))
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteOnce stores data at path unless a file is already there. The data is
// written to a temporary file first and linked into place, so a reader never
// sees a partial artifact. It reports whether this call wrote the file.
func WriteOnce(path string, data []byte) (bool, error) {
	if Exists(path) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CopyOnce copies src to dst unless dst already exists.
func CopyOnce(src, dst string) (bool, error) {
	if Exists(dst) {
		return false, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	return WriteOnce(dst, data)
}

// SaveJSON writes v as indented JSON, replacing any previous content.
func SaveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
