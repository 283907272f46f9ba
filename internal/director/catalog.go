package director

import (
	"fmt"
)

// Catalog is the ordered shot list of one script together with the scene
// and character tables the shots refer to.
type Catalog struct {
	Version    string      `yaml:"version" json:"version"`
	Style      string      `yaml:"style,omitempty" json:"style,omitempty"`
	Scenes     []Scene     `yaml:"scenes,omitempty" json:"scenes,omitempty"`
	Characters []Character `yaml:"characters,omitempty" json:"characters,omitempty"`
	Shots      []Shot      `yaml:"shots" json:"shots"`
}

type Scene struct {
	ID          int    `yaml:"id" json:"id"`
	Location    string `yaml:"location,omitempty" json:"location,omitempty"`
	TimeOfDay   string `yaml:"time_of_day,omitempty" json:"time_of_day,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type Character struct {
	Idx         int    `yaml:"idx" json:"idx"`
	Identifier  string `yaml:"identifier" json:"identifier"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Validate checks that shot indices are dense and ordered from zero and that
// every referenced character exists.
func (c *Catalog) Validate() error {
	if len(c.Shots) == 0 {
		return fmt.Errorf("catalog: no shots")
	}

	known := make(map[int]bool, len(c.Characters))
	for _, ch := range c.Characters {
		if ch.Identifier == "" {
			return fmt.Errorf("catalog: character %d has no identifier", ch.Idx)
		}
		known[ch.Idx] = true
	}

	for i, s := range c.Shots {
		if s.Idx != i {
			return fmt.Errorf("catalog: shot at position %d has idx %d, want %d", i, s.Idx, i)
		}
		if s.CameraID < 0 {
			return fmt.Errorf("catalog: shot %d has negative camera id %d", s.Idx, s.CameraID)
		}
		for _, kind := range s.Frames() {
			for _, ch := range s.FrameCharacters(kind) {
				if !known[ch] {
					return fmt.Errorf("catalog: shot %d %s references unknown character %d", s.Idx, kind, ch)
				}
			}
		}
	}

	return nil
}

// Truncate keeps the first maxShots shots. Zero or a negative value keeps all.
func (c *Catalog) Truncate(maxShots int) {
	if maxShots > 0 && maxShots < len(c.Shots) {
		c.Shots = c.Shots[:maxShots]
	}
}

// Scene returns the scene with the given id.
func (c *Catalog) Scene(id int) (Scene, bool) {
	for _, s := range c.Scenes {
		if s.ID == id {
			return s, true
		}
	}
	return Scene{}, false
}

// Character returns the character with the given index.
func (c *Catalog) Character(idx int) (Character, bool) {
	for _, ch := range c.Characters {
		if ch.Idx == idx {
			return ch, true
		}
	}
	return Character{}, false
}
