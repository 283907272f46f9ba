package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/script2video/internal/director"
	"github.com/ivlev/script2video/internal/media"
)

// Portrait is one view of a character in one appearance.
type Portrait struct {
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
}

// Registry holds the reference assets a run may draw on: character
// portraits keyed by identifier, appearance and view, and environment
// references keyed by scene.
type Registry struct {
	Characters   map[string]map[string]map[director.Facing]Portrait `yaml:"characters"`
	Environments map[int][]Portrait                                 `yaml:"environments"`
}

func NewRegistry() *Registry {
	return &Registry{
		Characters:   map[string]map[string]map[director.Facing]Portrait{},
		Environments: map[int][]Portrait{},
	}
}

// LoadRegistry reads a registry from YAML. Relative paths are resolved
// against the file's directory.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	r := NewRegistry()
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("asset registry %s: %w", path, err)
	}

	base := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for _, appearances := range r.Characters {
		for _, views := range appearances {
			for facing, p := range views {
				p.Path = resolve(p.Path)
				views[facing] = p
			}
		}
	}
	for _, envs := range r.Environments {
		for i := range envs {
			envs[i].Path = resolve(envs[i].Path)
		}
	}
	return r, nil
}

// Add registers a portrait.
func (r *Registry) Add(identifier, appearance string, facing director.Facing, p Portrait) {
	if r.Characters[identifier] == nil {
		r.Characters[identifier] = map[string]map[director.Facing]Portrait{}
	}
	if r.Characters[identifier][appearance] == nil {
		r.Characters[identifier][appearance] = map[director.Facing]Portrait{}
	}
	r.Characters[identifier][appearance][facing] = p
}

var viewOrder = []director.Facing{director.Front, director.Side, director.Back}

// Views returns every portrait of a character, appearances in name order and
// views front, side, back.
func (r *Registry) Views(identifier string) []media.Reference {
	var refs []media.Reference
	for _, appearance := range r.appearances(identifier) {
		views := r.Characters[identifier][appearance]
		for _, f := range viewOrder {
			if p, ok := views[f]; ok {
				refs = append(refs, media.Reference{Path: p.Path, Description: p.Description})
			}
		}
	}
	return refs
}

// View returns the first portrait of a character facing the given way. A
// character with no portrait in that orientation falls back to its front view.
func (r *Registry) View(identifier string, facing director.Facing) (media.Reference, bool) {
	for _, want := range []director.Facing{facing, director.Front} {
		for _, appearance := range r.appearances(identifier) {
			if p, ok := r.Characters[identifier][appearance][want]; ok {
				return media.Reference{Path: p.Path, Description: p.Description}, true
			}
		}
	}
	return media.Reference{}, false
}

// Environment returns the environment references of a scene.
func (r *Registry) Environment(sceneID int) []media.Reference {
	var refs []media.Reference
	for _, p := range r.Environments[sceneID] {
		refs = append(refs, media.Reference{Path: p.Path, Description: p.Description})
	}
	return refs
}

func (r *Registry) appearances(identifier string) []string {
	var names []string
	for name := range r.Characters[identifier] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
