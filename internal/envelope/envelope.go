// Package envelope defines the Party Box wire contract shared by the
// torch client and the riverboat server: the request envelope and Torch
// payload, the camper response record, and the error taxonomy.
package envelope

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Claim selects which workflow the server pipeline runs.
type Claim string

const (
	ClaimGenerateCode   Claim = "generate_code"
	ClaimReviewCode     Claim = "review_code"
	ClaimExecuteCommand Claim = "execute_command"
)

// Claims lists every valid claim in declaration order.
func Claims() []Claim {
	return []Claim{ClaimGenerateCode, ClaimReviewCode, ClaimExecuteCommand}
}

// ValidClaim reports whether c is one of the known claims.
func ValidClaim(c Claim) bool {
	switch c {
	case ClaimGenerateCode, ClaimReviewCode, ClaimExecuteCommand:
		return true
	}
	return false
}

// OSType is the client's target operating system.
type OSType string

const (
	OSWindows OSType = "windows"
	OSLinux   OSType = "linux"
	OSMacOS   OSType = "macos"
)

// ValidOS reports whether o is one of the known OS types.
func ValidOS(o OSType) bool {
	switch o {
	case OSWindows, OSLinux, OSMacOS:
		return true
	}
	return false
}

// Attachment is one file carried alongside a Torch. All four fields are
// required when an attachment is present.
type Attachment struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// TorchContext carries editor context that campers may consult. It is
// never interpreted by the pipeline stages themselves.
type TorchContext struct {
	CurrentFile      string   `json:"current_file,omitempty"`
	ProjectStructure []string `json:"project_structure"`
	TerminalHistory  []string `json:"terminal_history"`
}

// Torch is the request payload inside a Party Box.
type Torch struct {
	Claim         Claim        `json:"claim"`
	Task          string       `json:"task"`
	OS            OSType       `json:"os"`
	WorkspaceRoot string       `json:"workspace_root"`
	Attachments   []Attachment `json:"attachments"`
	Context       TorchContext `json:"context"`
}

// PartyBox is the top-level transport unit. Metadata is free-form and
// passed through untouched by every pipeline stage.
type PartyBox struct {
	Torch    Torch          `json:"torch"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResponseType classifies what a camper response carries.
type ResponseType string

const (
	TypeCode       ResponseType = "code"
	TypeSuggestion ResponseType = "suggestion"
	TypeCommand    ResponseType = "command"
	TypeError      ResponseType = "error"
)

// FileToCreate is one file-creation instruction in a response.
type FileToCreate struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CamperResponse is the success response record returned to the client.
type CamperResponse struct {
	CamperRole        string         `json:"camper_role"`
	ResponseType      ResponseType   `json:"response_type"`
	Content           string         `json:"content"`
	FilesToCreate     []FileToCreate `json:"files_to_create"`
	CommandsToExecute []string       `json:"commands_to_execute"`
	ConfidenceScore   float64        `json:"confidence_score"`
}

// NewBoxID returns a lexicographically sortable Party Box identifier.
func NewBoxID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

// TaskSummary truncates a task description for log and storage records.
// Truncation counts runes, never splitting a multibyte character.
func TaskSummary(task string) string {
	task = strings.TrimSpace(task)
	runes := []rune(task)
	if len(runes) <= 100 {
		return task
	}
	return string(runes[:97]) + "..."
}
