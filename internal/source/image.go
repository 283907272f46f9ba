package source

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/ivlev/script2video/internal/director"
)

// ScanPortraits builds a registry from a directory laid out as
// {identifier}/{appearance}/{front|side|back}.{png,jpg,jpeg}. Files that do
// not decode as images are skipped.
func ScanPortraits(dir string) (*Registry, error) {
	r := NewRegistry()

	characters, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, ch := range characters {
		if !ch.IsDir() {
			continue
		}
		appearances, err := os.ReadDir(filepath.Join(dir, ch.Name()))
		if err != nil {
			return nil, err
		}
		for _, ap := range appearances {
			if !ap.IsDir() {
				continue
			}
			apDir := filepath.Join(dir, ch.Name(), ap.Name())
			entries, err := os.ReadDir(apDir)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				ext := strings.ToLower(filepath.Ext(entry.Name()))
				if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
					continue
				}
				facing := director.Facing(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
				if facing != director.Front && facing != director.Side && facing != director.Back {
					continue
				}
				path := filepath.Join(apDir, entry.Name())
				if !decodable(path) {
					continue
				}
				r.Add(ch.Name(), ap.Name(), facing, Portrait{
					Path:        path,
					Description: fmt.Sprintf("A %s view portrait of %s (%s).", facing, ch.Name(), ap.Name()),
				})
			}
		}
	}
	return r, nil
}

func decodable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	_, _, err = image.DecodeConfig(f)
	return err == nil
}
