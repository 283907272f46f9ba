package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/ivlev/script2video/internal/director"
)

const cameraTreeSystemPrompt = `[Role]
You are a professional video editing expert specializing in multi-camera shot analysis and scene structure modeling. You understand shot sizes and content inclusion relationships, and you infer hierarchical structures between camera positions from their shot descriptions.

[Task]
Construct a camera tree in which a parent camera's content encompasses that of its child camera. For each camera, identify its parent camera (if one exists) and the shot of the parent camera that contains the child camera's content. A camera without a parent gets null.

[Input]
The cameras are enclosed within <CAMERA_SEQ> and </CAMERA_SEQ>. Each camera lists its shots within <CAMERA_N> and </CAMERA_N>, where N is the camera id. Every shot carries size, angle, focal length and screen direction hints.

[Output]
Answer with a JSON object {"camera_parent_items": [...]} holding one item per camera, in input order. An item is null or an object with the fields:
- parent_cam_idx: id of the parent camera
- parent_shot_idx: index of the parent camera's shot the child derives from
- reason: why this parent was chosen
- is_parent_fully_covers_child: whether the parent shot contains everything the child shot shows
- missing_info: what the child shot shows that the parent shot lacks, or null

[Guidelines]
- The parent should as fully as possible contain the child camera's content. Compare characters, actions and setting.
- Prefer parents with equal or wider framing. Keep adjacent sizes within two levels when possible.
- Respect the 180-degree rule using the dir hints. Prefer a parent whose direction matches the child.
- Avoid jumps greater than about 3x focal length or extreme angle flips.
- The parent shot should be as close as possible to, and earlier than, the child camera's first shot.
- The tree must be acyclic. The first camera is the root and the only camera without a parent.
- Keep the language of all values consistent with the input.`

var _ director.TreeProposer = (*Client)(nil)

type cameraParentItem struct {
	ParentCamIdx  *int    `json:"parent_cam_idx"`
	ParentShotIdx *int    `json:"parent_shot_idx"`
	Reason        string  `json:"reason"`
	FullyCovers   bool    `json:"is_parent_fully_covers_child"`
	MissingInfo   *string `json:"missing_info"`
}

type cameraTreeAnswer struct {
	Items []*cameraParentItem `json:"camera_parent_items"`
}

// ProposeCameraTree asks the text model for a parent of every camera.
func (c *Client) ProposeCameraTree(ctx context.Context, cameras []director.Camera, shots []director.Shot) (director.Proposal, error) {
	var answer cameraTreeAnswer
	parts := []*genai.Part{genai.NewPartFromText(cameraSequence(cameras, shots))}
	if err := c.generateJSON(ctx, "propose camera tree", cameraTreeSystemPrompt, parts, &answer); err != nil {
		return director.Proposal{}, err
	}
	return answer.proposal(), nil
}

func (a cameraTreeAnswer) proposal() director.Proposal {
	p := director.Proposal{Items: make([]*director.ParentProposal, len(a.Items))}
	for i, item := range a.Items {
		if item == nil || item.ParentCamIdx == nil || item.ParentShotIdx == nil {
			continue
		}
		pp := &director.ParentProposal{
			ParentCameraID:   *item.ParentCamIdx,
			ParentShotIdx:    *item.ParentShotIdx,
			Reason:           item.Reason,
			FullyCoversChild: item.FullyCovers,
		}
		if item.MissingInfo != nil {
			pp.MissingInfo = *item.MissingInfo
		}
		p.Items[i] = pp
	}
	return p
}

func cameraSequence(cameras []director.Camera, shots []director.Shot) string {
	byIdx := make(map[int]director.Shot, len(shots))
	for _, s := range shots {
		byIdx[s.Idx] = s
	}

	var b strings.Builder
	b.WriteString("<CAMERA_SEQ>\n")
	for _, cam := range cameras {
		fmt.Fprintf(&b, "<CAMERA_%d>\n", cam.ID)
		for _, idx := range cam.ActiveShotIdxs {
			s := byIdx[idx]
			fmt.Fprintf(&b, "Shot %d: [size=%s, angle=%s, focal=%gmm, dir=%s] %s\n",
				s.Idx, s.ShotSize, s.Angle, s.FocalLengthMM, s.ScreenDirection, s.VisualDesc)
		}
		fmt.Fprintf(&b, "</CAMERA_%d>\n", cam.ID)
	}
	b.WriteString("</CAMERA_SEQ>")
	return b.String()
}
