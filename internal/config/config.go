package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/script2video/internal/gemini"
	"github.com/ivlev/script2video/internal/scheduler"
)

// Config is the project configuration. Values of the form ${VAR} are
// expanded from the environment before the file is parsed.
type Config struct {
	WorkingDir      string `yaml:"working_dir"`
	Catalog         string `yaml:"catalog"`
	Assets          string `yaml:"assets"`
	Style           string `yaml:"style"`
	MaxShots        int    `yaml:"max_shots"`
	InteractiveMode bool   `yaml:"interactive_mode"`

	Gemini    gemini.Config   `yaml:"gemini"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Render    RenderConfig    `yaml:"render"`
	Logging   LoggingConfig   `yaml:"logging"`
	Ledger    LedgerConfig    `yaml:"ledger"`
}

type SchedulerConfig struct {
	Candidates        int           `yaml:"candidates"`
	ImageSize         string        `yaml:"image_size"`
	DependencyTimeout time.Duration `yaml:"dependency_timeout"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	AnchorGap         int           `yaml:"anchor_gap"`
}

type RenderConfig struct {
	FramesOnly   bool          `yaml:"frames_only"`
	VideoTimeout time.Duration `yaml:"video_timeout"`
	FinalVideo   bool          `yaml:"final_video"`
	Encoder      string        `yaml:"encoder"`
	Quality      int           `yaml:"quality"`
	FadeDuration float64       `yaml:"fade_duration"`
	// ShowStats logs a performance report and appends it to benchmark.log.
	ShowStats bool `yaml:"show_stats"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type LedgerConfig struct {
	// Path of the run ledger. Empty means ledger.db inside the working directory.
	Path string `yaml:"path"`
}

func Default() *Config {
	opts := scheduler.DefaultOptions()
	return &Config{
		WorkingDir: "output",
		Gemini:     gemini.DefaultConfig(),
		Scheduler: SchedulerConfig{
			Candidates:        opts.Candidates,
			ImageSize:         opts.ImageSize,
			DependencyTimeout: opts.DependencyTimeout,
			MaxConcurrent:     opts.MaxConcurrent,
			AnchorGap:         opts.AnchorGap,
		},
		Render: RenderConfig{
			VideoTimeout: 30 * time.Minute,
			FinalVideo:   true,
			FadeDuration: 0.5,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.WorkingDir == "" {
		return fmt.Errorf("config: working_dir is required")
	}
	if c.MaxShots < 0 {
		return fmt.Errorf("config: max_shots must not be negative")
	}
	if c.Scheduler.Candidates < 1 {
		return fmt.Errorf("config: scheduler.candidates must be at least 1")
	}
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("config: scheduler.max_concurrent must be at least 1")
	}
	if c.Scheduler.DependencyTimeout <= 0 {
		return fmt.Errorf("config: scheduler.dependency_timeout must be positive")
	}
	return nil
}

// SchedulerOptions converts the scheduler section.
func (c *Config) SchedulerOptions() scheduler.Options {
	return scheduler.Options{
		Candidates:        c.Scheduler.Candidates,
		ImageSize:         c.Scheduler.ImageSize,
		DependencyTimeout: c.Scheduler.DependencyTimeout,
		AnchorGap:         c.Scheduler.AnchorGap,
		MaxConcurrent:     c.Scheduler.MaxConcurrent,
		Style:             c.Style,
	}
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
