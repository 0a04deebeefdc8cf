// Package pipeline is the server-side dispatcher: every inbound Party
// Box moves through unpack, security validation, role fan-out, and
// packing. Security is not skippable for any claim.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/campfirevalley/riverboat/internal/envelope"
)

// Unpacked is the normalized view of an inbound Party Box that the
// rest of the pipeline works on.
type Unpacked struct {
	BoxID         string
	Claim         envelope.Claim
	Task          string
	OS            envelope.OSType
	WorkspaceRoot string
	Context       envelope.TorchContext
	Files         []envelope.Attachment
	Metadata      map[string]any
}

// unpack parses the raw request body into a Party Box and validates
// the envelope. A body that is not a JSON object is a parse error;
// a well-formed box with bad fields is a validation error.
func unpack(raw []byte) (*Unpacked, *envelope.ErrorResponse) {
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		errResp := envelope.NewError(envelope.CodeParse, "request body is not valid JSON", false)
		return nil, errResp.WithDetail("error", err.Error())
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, envelope.NewError(envelope.CodeParse,
			fmt.Sprintf("expected a JSON object, got %T", probe), false)
	}

	var box envelope.PartyBox
	if err := json.Unmarshal(raw, &box); err != nil {
		errResp := envelope.NewError(envelope.CodeParse, "party box has a malformed field", false)
		return nil, errResp.WithDetail("error", err.Error())
	}

	if res := envelope.Validate(&box); !res.Valid {
		errResp := envelope.NewError(envelope.CodeValidation, "party box failed validation", false)
		return nil, errResp.WithDetail("errors", res.Errors)
	}

	u := &Unpacked{
		Claim:         box.Torch.Claim,
		Task:          box.Torch.Task,
		OS:            box.Torch.OS,
		WorkspaceRoot: box.Torch.WorkspaceRoot,
		Context:       box.Torch.Context,
		Files:         box.Torch.Attachments,
		Metadata:      box.Metadata,
	}
	if id, ok := box.Metadata["box_id"].(string); ok {
		u.BoxID = id
	}
	if u.BoxID == "" {
		u.BoxID = envelope.NewBoxID()
	}
	return u, nil
}
