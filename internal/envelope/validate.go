package envelope

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTaskLen        = 500
	MaxAttachments    = 50
	MaxProjectEntries = 1000
)

// ValidationError reports why an envelope could not be built. It keeps
// the per-field messages so callers can show them individually.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("party box validation failed: %s", strings.Join(e.Errors, "; "))
}

func (e *ValidationError) ErrorCode() string { return CodeValidation }

// ValidationResult is the outcome of a standalone Validate call.
type ValidationResult struct {
	Valid  bool     `json:"is_valid"`
	Errors []string `json:"errors"`
}

// BuildInput holds the raw pieces the editor (or CLI) supplies.
type BuildInput struct {
	Claim         Claim
	Task          string
	OS            OSType
	WorkspaceRoot string
	Attachments   []Attachment
	Context       TorchContext
	Metadata      map[string]any
}

// Build constructs a Party Box from in, failing with *ValidationError
// if any required Torch field is missing or any attachment is
// incomplete. The returned box is ready to send and must not be
// mutated afterwards.
func Build(in BuildInput) (*PartyBox, error) {
	box := &PartyBox{
		Torch: Torch{
			Claim:         in.Claim,
			Task:          strings.TrimSpace(in.Task),
			OS:            in.OS,
			WorkspaceRoot: in.WorkspaceRoot,
			Attachments:   in.Attachments,
			Context:       in.Context,
		},
		Metadata: in.Metadata,
	}
	if box.Torch.Attachments == nil {
		box.Torch.Attachments = make([]Attachment, 0)
	}
	if box.Torch.Context.ProjectStructure == nil {
		box.Torch.Context.ProjectStructure = make([]string, 0)
	}
	if box.Torch.Context.TerminalHistory == nil {
		box.Torch.Context.TerminalHistory = make([]string, 0)
	}

	if res := Validate(box); !res.Valid {
		return nil, &ValidationError{Errors: res.Errors}
	}
	return box, nil
}

// Validate checks structural completeness of an envelope. It is pure:
// it never mutates box and has no side effects, so it can be applied to
// envelopes received from elsewhere as well as freshly built ones.
func Validate(box *PartyBox) ValidationResult {
	errs := make([]string, 0)
	if box == nil {
		return ValidationResult{Valid: false, Errors: []string{"party box is nil"}}
	}

	t := box.Torch
	if strings.TrimSpace(string(t.Claim)) == "" {
		errs = append(errs, "claim is required")
	} else if !ValidClaim(t.Claim) {
		errs = append(errs, fmt.Sprintf("claim %q is not one of generate_code, review_code, execute_command", t.Claim))
	}

	task := strings.TrimSpace(t.Task)
	if task == "" {
		errs = append(errs, "task is required")
	} else if utf8.RuneCountInString(task) > MaxTaskLen {
		errs = append(errs, fmt.Sprintf("task exceeds %d characters", MaxTaskLen))
	}

	if strings.TrimSpace(string(t.OS)) == "" {
		errs = append(errs, "os is required")
	} else if !ValidOS(t.OS) {
		errs = append(errs, fmt.Sprintf("os %q is not one of windows, linux, macos", t.OS))
	}

	if strings.TrimSpace(t.WorkspaceRoot) == "" {
		errs = append(errs, "workspace_root is required")
	}

	if len(t.Attachments) > MaxAttachments {
		errs = append(errs, fmt.Sprintf("attachments exceed %d items", MaxAttachments))
	}
	for i, att := range t.Attachments {
		if err := ValidateAttachment(att); err != nil {
			errs = append(errs, fmt.Sprintf("attachment %d: %s", i, err.Error()))
		}
	}

	if len(t.Context.ProjectStructure) > MaxProjectEntries {
		errs = append(errs, fmt.Sprintf("project_structure exceeds %d entries", MaxProjectEntries))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateAttachment checks that all four attachment fields are
// non-empty.
func ValidateAttachment(att Attachment) error {
	if strings.TrimSpace(att.Path) == "" {
		return fmt.Errorf("path is required")
	}
	if att.Content == "" {
		return fmt.Errorf("content is required")
	}
	if strings.TrimSpace(att.Type) == "" {
		return fmt.Errorf("type is required")
	}
	if strings.TrimSpace(att.Timestamp) == "" {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
