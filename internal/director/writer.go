package director

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteCatalog writes a catalog as JSON when path ends in .json and as
// YAML otherwise
func WriteCatalog(catalog *Catalog, path string) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(catalog, "", "  ")
	} else {
		data, err = yaml.Marshal(catalog)
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadCatalog reads a catalog from a YAML or JSON file
func ReadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var catalog Catalog
	if isJSON(path) {
		// yaml.v3 rejects the quoted integer keys of JSON facing maps.
		err = json.Unmarshal(data, &catalog)
	} else {
		err = yaml.Unmarshal(data, &catalog)
	}
	if err != nil {
		return nil, err
	}

	return &catalog, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// WriteCameraTree stores the camera tree as indented JSON
func WriteCameraTree(cameras []Camera, path string) error {
	data, err := json.MarshalIndent(cameras, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadCameraTree loads a camera tree written by WriteCameraTree
func ReadCameraTree(path string) ([]Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cameras []Camera
	if err := json.Unmarshal(data, &cameras); err != nil {
		return nil, err
	}

	return cameras, nil
}
