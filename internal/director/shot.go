package director

// ShotSize is the framing category of a shot, ordered from widest to tightest.
type ShotSize string

const (
	ExtremeLong    ShotSize = "extreme_long"
	Long           ShotSize = "long"
	MediumLong     ShotSize = "medium_long"
	Medium         ShotSize = "medium"
	MediumClose    ShotSize = "medium_close"
	CloseUp        ShotSize = "close_up"
	ExtremeCloseUp ShotSize = "extreme_close_up"
)

var shotSizeRank = map[ShotSize]int{
	ExtremeLong:    0,
	Long:           1,
	MediumLong:     2,
	Medium:         3,
	MediumClose:    4,
	CloseUp:        5,
	ExtremeCloseUp: 6,
}

// Rank returns the ordinal of the size. Unknown sizes rank as medium.
func (s ShotSize) Rank() int {
	if r, ok := shotSizeRank[s]; ok {
		return r
	}
	return shotSizeRank[Medium]
}

// Angle is the vertical camera angle. Dutch is not really ordinal and sits
// at the end of the scale so that it always reads as a drastic change.
type Angle string

const (
	WormEye  Angle = "worm_eye"
	Low      Angle = "low"
	EyeLevel Angle = "eye_level"
	High     Angle = "high"
	BirdEye  Angle = "bird_eye"
	Dutch    Angle = "dutch"
)

var angleRank = map[Angle]int{
	WormEye:  0,
	Low:      1,
	EyeLevel: 2,
	High:     3,
	BirdEye:  4,
	Dutch:    5,
}

// Rank returns the ordinal of the angle. Unknown angles rank as eye level.
func (a Angle) Rank() int {
	if r, ok := angleRank[a]; ok {
		return r
	}
	return angleRank[EyeLevel]
}

type Direction string

const (
	LeftToRight Direction = "L_to_R"
	RightToLeft Direction = "R_to_L"
	Toward      Direction = "toward"
	Away        Direction = "away"
	Static      Direction = "static"
)

// Lateral reports whether the direction crosses the frame horizontally.
func (d Direction) Lateral() bool {
	return d == LeftToRight || d == RightToLeft
}

type Transition string

const (
	Cut      Transition = "cut"
	Dissolve Transition = "dissolve"
	Fade     Transition = "fade"
	Wipe     Transition = "wipe"
)

// Soft reports whether the transition blends two shots instead of cutting.
func (t Transition) Soft() bool {
	return t == Dissolve || t == Fade || t == Wipe
}

type Variation string

const (
	VariationNone   Variation = "none"
	VariationSmall  Variation = "small"
	VariationMedium Variation = "medium"
	VariationLarge  Variation = "large"
)

type Facing string

const (
	Front Facing = "front"
	Side  Facing = "side"
	Back  Facing = "back"
)

// FrameKind names one of the two key stills of a shot.
type FrameKind string

const (
	FirstFrame FrameKind = "first_frame"
	LastFrame  FrameKind = "last_frame"
)

// Shot is a single entry of the shot catalog. Shots are immutable once loaded.
type Shot struct {
	Idx             int        `yaml:"idx" json:"idx"`
	CameraID        int        `yaml:"camera_id" json:"camera_id"`
	SceneID         int        `yaml:"scene_id" json:"scene_id"`
	ShotSize        ShotSize   `yaml:"shot_size" json:"shot_size"`
	Angle           Angle      `yaml:"angle" json:"angle"`
	FocalLengthMM   float64    `yaml:"focal_length_mm" json:"focal_length_mm"`
	ScreenDirection Direction  `yaml:"screen_direction" json:"screen_direction"`
	TransitionIn    Transition `yaml:"transition_in,omitempty" json:"transition_in,omitempty"`
	TransitionOut   Transition `yaml:"transition_out,omitempty" json:"transition_out,omitempty"`
	VariationType   Variation  `yaml:"variation_type" json:"variation_type"`

	VisualDesc     string `yaml:"visual_desc" json:"visual_desc"`
	FirstFrameDesc string `yaml:"first_frame_desc" json:"first_frame_desc"`
	LastFrameDesc  string `yaml:"last_frame_desc,omitempty" json:"last_frame_desc,omitempty"`
	MotionDesc     string `yaml:"motion_desc,omitempty" json:"motion_desc,omitempty"`
	AudioDesc      string `yaml:"audio_desc,omitempty" json:"audio_desc,omitempty"`

	FirstFrameCharacters []int          `yaml:"first_frame_characters,omitempty" json:"first_frame_characters,omitempty"`
	LastFrameCharacters  []int          `yaml:"last_frame_characters,omitempty" json:"last_frame_characters,omitempty"`
	FirstFrameFacing     map[int]Facing `yaml:"first_frame_facing,omitempty" json:"first_frame_facing,omitempty"`
	LastFrameFacing      map[int]Facing `yaml:"last_frame_facing,omitempty" json:"last_frame_facing,omitempty"`
}

// NeedsLastFrame reports whether the shot moves enough to need a second key still.
func (s Shot) NeedsLastFrame() bool {
	return s.VariationType == VariationMedium || s.VariationType == VariationLarge
}

// Frames lists the key stills the shot requires, first frame first.
func (s Shot) Frames() []FrameKind {
	if s.NeedsLastFrame() {
		return []FrameKind{FirstFrame, LastFrame}
	}
	return []FrameKind{FirstFrame}
}

// FrameDesc returns the textual target of a key still.
func (s Shot) FrameDesc(kind FrameKind) string {
	if kind == LastFrame {
		return s.LastFrameDesc
	}
	return s.FirstFrameDesc
}

// FrameCharacters returns the visible characters of a key still.
func (s Shot) FrameCharacters(kind FrameKind) []int {
	if kind == LastFrame {
		return s.LastFrameCharacters
	}
	return s.FirstFrameCharacters
}

// FrameFacing returns how a character faces the camera in a key still.
func (s Shot) FrameFacing(kind FrameKind, character int) Facing {
	facing := s.FirstFrameFacing
	if kind == LastFrame {
		facing = s.LastFrameFacing
	}
	if f, ok := facing[character]; ok && f != "" {
		return f
	}
	return Front
}
