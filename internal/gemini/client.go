// Package gemini backs the generation capabilities with the Gemini API:
// camera tree reasoning, reference selection, image and video synthesis.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ivlev/script2video/internal/media"
)

type Config struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url,omitempty"`
	TextModel    string        `yaml:"text_model"`
	ImageModel   string        `yaml:"image_model"`
	VideoModel   string        `yaml:"video_model"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Attempts     int           `yaml:"attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

func DefaultConfig() Config {
	return Config{
		TextModel:    "gemini-2.5-flash",
		ImageModel:   "gemini-2.5-flash-image",
		VideoModel:   "veo-3.0-generate-001",
		PollInterval: 10 * time.Second,
		Attempts:     3,
		RetryDelay:   2 * time.Second,
	}
}

// Client implements every media capability and director.TreeProposer.
type Client struct {
	genai  *genai.Client
	cfg    Config
	logger *zap.Logger
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{genai: client, cfg: cfg, logger: logger}, nil
}

func (c *Client) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return media.Retry(ctx, c.cfg.Attempts, c.cfg.RetryDelay, fn)
}

// generateJSON sends parts to the text model and decodes its JSON answer
// into out. Malformed answers are retried like transient failures.
func (c *Client) generateJSON(ctx context.Context, op, system string, parts []*genai.Part, out any) error {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.2),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	return c.retry(ctx, func(ctx context.Context) error {
		resp, err := c.genai.Models.GenerateContent(ctx, c.cfg.TextModel, contents, cfg)
		if err != nil {
			return classify(op, err)
		}
		if err := decodeJSON(resp.Text(), out); err != nil {
			c.logger.Warn("malformed model answer", zap.String("op", op), zap.Error(err))
			return media.Transient(op, err)
		}
		return nil
	})
}

// decodeJSON extracts the outermost JSON object of a model answer, which
// may be wrapped in a markdown fence or surrounded by prose.
func decodeJSON(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in answer %q", truncate(text, 80))
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}

// classify maps an API failure to a retryable or final service error.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return media.Transient(op, err)
		}
		return media.Permanent(op, err)
	}
	return media.Transient(op, err)
}

// imagePart loads a reference image from disk.
func imagePart(path string) (*genai.Part, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return genai.NewPartFromBytes(data, http.DetectContentType(data)), nil
}

func loadImage(path string) (*genai.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &genai.Image{ImageBytes: data, MIMEType: http.DetectContentType(data)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
