package gemini

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/ivlev/script2video/internal/media"
)

// MaxReferences caps the images handed to the image model.
const MaxReferences = 8

const referenceSystemPrompt = `[Role]
You are a professional visual creation assistant skilled in multimodal image analysis and reasoning.

[Task]
Select the most suitable reference images for generating the target frame from a sequence of reference image descriptions (character portraits, environments and frames generated earlier), so that the generated image keeps character, environment and style consistency.

[Input]
The target frame is enclosed within <FRAME_DESC> and </FRAME_DESC>. The reference images are enclosed within <SEQ_DESC> and </SEQ_DESC>, each prefixed with its index starting from 0.

[Output]
Answer with a JSON object {"ref_image_indices": [...], "text_prompt": "..."}. The text prompt describes the image to create and MUST reference every selected image as "Image N", where N is its index in the input sequence.

[Guidelines]
- Select at most 8 images.
- Prefer images of the same camera and, among frames, the most recent ones.
- For a character pick at most one portrait view, matching how the character faces the camera.
- Avoid selecting images with duplicate information.
- If a visual style is given, include it in the text prompt.
- Keep the language of all values consistent with the frame description.`

type referenceAnswer struct {
	Indices []int  `json:"ref_image_indices"`
	Prompt  string `json:"text_prompt"`
}

// SelectReferences asks the text model which of the available images
// should guide the synthesis of the target frame.
func (c *Client) SelectReferences(ctx context.Context, req media.SelectionRequest) (media.Selection, error) {
	var answer referenceAnswer
	parts := []*genai.Part{genai.NewPartFromText(selectionInput(req))}
	if err := c.generateJSON(ctx, "select references", referenceSystemPrompt, parts, &answer); err != nil {
		return media.Selection{}, err
	}
	return answer.selection(req), nil
}

func selectionInput(req media.SelectionRequest) string {
	var b strings.Builder
	b.WriteString("<FRAME_DESC>\n")
	if req.Scene != "" {
		fmt.Fprintf(&b, "Scene: %s\n", req.Scene)
	}
	b.WriteString(req.Target)
	b.WriteString("\n</FRAME_DESC>\n\n<SEQ_DESC>\n")
	for i, ref := range req.Available {
		fmt.Fprintf(&b, "Image %d: %s\n", i, ref.Description)
	}
	b.WriteString("</SEQ_DESC>")
	if req.Style != "" {
		fmt.Fprintf(&b, "\n\nVisual style: %s", req.Style)
	}
	return b.String()
}

// selection resolves the chosen indices and renumbers the prompt's image
// references to the order of the selected list.
func (a referenceAnswer) selection(req media.SelectionRequest) media.Selection {
	var sel media.Selection
	renumbered := map[int]int{}
	for _, idx := range a.Indices {
		if idx < 0 || idx >= len(req.Available) {
			continue
		}
		if _, dup := renumbered[idx]; dup {
			continue
		}
		if len(sel.References) == MaxReferences {
			break
		}
		renumbered[idx] = len(sel.References)
		sel.References = append(sel.References, req.Available[idx])
	}

	sel.Prompt = renumber(a.Prompt, renumbered)
	if req.Style != "" && sel.Prompt != "" && !strings.Contains(sel.Prompt, req.Style) {
		sel.Prompt += "\nStyle: " + req.Style
	}
	return sel
}

var imageRef = regexp.MustCompile(`Image (\d+)`)

func renumber(prompt string, mapping map[int]int) string {
	return imageRef.ReplaceAllStringFunc(prompt, func(m string) string {
		n, err := strconv.Atoi(imageRef.FindStringSubmatch(m)[1])
		if err != nil {
			return m
		}
		if to, ok := mapping[n]; ok {
			return "Image " + strconv.Itoa(to)
		}
		return m
	})
}

const bestImageSystemPrompt = `You are a film continuity supervisor. You receive reference images, a target frame description and several candidate images generated for it. Pick the candidate that best matches the description while staying consistent with the references in character appearance, environment and style, and has the fewest visual artifacts.
Answer with a JSON object {"best_index": N, "reason": "..."} where N is the candidate index starting from 0.`

type bestAnswer struct {
	BestIndex int    `json:"best_index"`
	Reason    string `json:"reason"`
}

// SelectBest shows the references and the candidates to the text model and
// returns its pick.
func (c *Client) SelectBest(ctx context.Context, refs []media.Reference, target string, candidates []string) (media.Verdict, error) {
	parts := []*genai.Part{genai.NewPartFromText("Target frame description:\n" + target)}
	for i, ref := range refs {
		p, err := imagePart(ref.Path)
		if err != nil {
			return media.Verdict{}, fmt.Errorf("reference %d: %w", i, err)
		}
		parts = append(parts, genai.NewPartFromText(fmt.Sprintf("Reference %d: %s", i, ref.Description)), p)
	}
	for i, path := range candidates {
		p, err := imagePart(path)
		if err != nil {
			return media.Verdict{}, fmt.Errorf("candidate %d: %w", i, err)
		}
		parts = append(parts, genai.NewPartFromText(fmt.Sprintf("Candidate %d:", i)), p)
	}

	var answer bestAnswer
	if err := c.generateJSON(ctx, "select best candidate", bestImageSystemPrompt, parts, &answer); err != nil {
		return media.Verdict{}, err
	}
	return media.Verdict{Index: answer.BestIndex, Reason: answer.Reason}, nil
}
