package gemini

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ivlev/script2video/internal/media"
)

var (
	_ media.ImageSynthesizer      = (*Client)(nil)
	_ media.TransitionSynthesizer = (*Client)(nil)
	_ media.VideoSynthesizer      = (*Client)(nil)
	_ media.ReferenceSelector     = (*Client)(nil)
	_ media.CandidateSelector     = (*Client)(nil)
)

var errNoImage = errors.New("answer contains no image")

// SynthesizeImage renders one image from a prompt and reference images.
func (c *Client) SynthesizeImage(ctx context.Context, prompt string, refs []media.Reference, size string) (media.Image, error) {
	parts := make([]*genai.Part, 0, len(refs)+1)
	for i, ref := range refs {
		p, err := imagePart(ref.Path)
		if err != nil {
			return media.Image{}, fmt.Errorf("reference %d: %w", i, err)
		}
		parts = append(parts, p)
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	cfg := &genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE"}}
	if ratio := aspectRatio(size); ratio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: ratio}
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	// Synthesis calls are never retried.
	resp, err := c.genai.Models.GenerateContent(ctx, c.cfg.ImageModel, contents, cfg)
	if err != nil {
		return media.Image{}, classify("synthesize image", err)
	}
	img, ok := inlineImage(resp)
	if !ok {
		return media.Image{}, media.Permanent("synthesize image", errNoImage)
	}
	return img, nil
}

func inlineImage(resp *genai.GenerateContentResponse) (media.Image, bool) {
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p != nil && p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "image/") {
				return media.Image{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType}, true
			}
		}
	}
	return media.Image{}, false
}

var supportedRatios = map[string]bool{
	"1:1": true, "2:3": true, "3:2": true, "3:4": true, "4:3": true,
	"9:16": true, "16:9": true, "21:9": true,
}

// aspectRatio reduces "WxH" to the ratio the image model understands.
func aspectRatio(size string) string {
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return ""
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return ""
	}
	g := gcd(width, height)
	ratio := fmt.Sprintf("%d:%d", width/g, height/g)
	if !supportedRatios[ratio] {
		return ""
	}
	return ratio
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// SynthesizeTransition renders a clip that starts on the previous shot's
// frame and cuts to the next shot.
func (c *Client) SynthesizeTransition(ctx context.Context, req media.TransitionRequest) ([]byte, error) {
	first, err := loadImage(req.FromFrame)
	if err != nil {
		return nil, fmt.Errorf("transition first frame: %w", err)
	}
	return c.generateVideo(ctx, transitionPrompt(req), first, nil)
}

func transitionPrompt(req media.TransitionRequest) string {
	return "Two shots. The transition between the shots is a cut to. The style of the two shots should be consistent." +
		"\nThe first shot description: " + req.FromDesc + "." +
		"\nThe second shot description: " + req.ToDesc + "."
}

// SynthesizeVideo renders a shot clip between its key frames.
func (c *Client) SynthesizeVideo(ctx context.Context, req media.VideoRequest) ([]byte, error) {
	first, err := loadImage(req.FirstFrame)
	if err != nil {
		return nil, fmt.Errorf("video first frame: %w", err)
	}
	var last *genai.Image
	if req.LastFrame != "" {
		if last, err = loadImage(req.LastFrame); err != nil {
			return nil, fmt.Errorf("video last frame: %w", err)
		}
	}
	return c.generateVideo(ctx, req.Prompt, first, last)
}

func (c *Client) generateVideo(ctx context.Context, prompt string, first, last *genai.Image) ([]byte, error) {
	cfg := &genai.GenerateVideosConfig{NumberOfVideos: 1, LastFrame: last}

	op, err := c.genai.Models.GenerateVideos(ctx, c.cfg.VideoModel, prompt, first, cfg)
	if err != nil {
		return nil, classify("generate video", err)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		next, err := c.genai.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			if err := classify("poll video", err); !isTransient(err) {
				return nil, err
			}
			c.logger.Warn("video poll failed", zap.String("operation", op.Name), zap.Error(err))
			continue
		}
		op = next
	}

	if op.Error != nil {
		return nil, media.Permanent("generate video", fmt.Errorf("operation %s: %v", op.Name, op.Error))
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return nil, media.Permanent("generate video", errors.New("operation returned no video"))
	}

	v := op.Response.GeneratedVideos[0]
	if len(v.Video.VideoBytes) > 0 {
		return v.Video.VideoBytes, nil
	}
	data, err := c.genai.Files.Download(ctx, genai.NewDownloadURIFromGeneratedVideo(v), nil)
	if err != nil {
		return nil, classify("download video", err)
	}
	return data, nil
}

func isTransient(err error) bool {
	var svcErr *media.ServiceError
	return errors.As(err, &svcErr) && svcErr.Retryable
}
