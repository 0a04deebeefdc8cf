package pipeline

import (
	"time"

	"github.com/campfirevalley/riverboat/internal/envelope"
)

// ResponseBox is the wire shape of a packed reply: the camper response
// under "torch" plus delivery metadata, mirroring the inbound nesting.
type ResponseBox struct {
	Torch    *envelope.CamperResponse `json:"torch"`
	Metadata map[string]any           `json:"metadata,omitempty"`
}

// pack wraps an aggregated response with delivery metadata. Generated
// files also surface as typed response attachments so editor clients
// can apply them without re-deriving MIME types.
func pack(u *Unpacked, resp *envelope.CamperResponse, cached bool) *ResponseBox {
	attachments := make([]envelope.Attachment, 0, len(resp.FilesToCreate))
	now := time.Now().UTC().Format(time.RFC3339)
	for _, f := range resp.FilesToCreate {
		attachments = append(attachments, envelope.Attachment{
			Path:      f.Path,
			Content:   f.Content,
			Type:      envelope.FileTypeFor(f.Path),
			Timestamp: now,
		})
	}

	meta := map[string]any{
		"box_id":       u.BoxID,
		"claim":        string(u.Claim),
		"task_summary": envelope.TaskSummary(u.Task),
		"packed_at":    now,
		"cached":       cached,
	}
	if len(attachments) > 0 {
		meta["attachments"] = attachments
	}

	return &ResponseBox{Torch: resp, Metadata: meta}
}
