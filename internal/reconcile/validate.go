package reconcile

import (
	"fmt"
	"strings"

	"github.com/campfirevalley/riverboat/internal/envelope"
)

// Result carries advisory findings about a structurally valid response.
type Result struct {
	Valid    bool     `json:"is_valid"`
	Warnings []string `json:"warnings"`
}

// ValidateResponse never rejects a structurally successful response;
// it only flags conditions the caller may want to surface. Warnings are
// advisory and non-blocking.
func ValidateResponse(resp *envelope.CamperResponse) Result {
	warnings := make([]string, 0)
	if resp == nil {
		return Result{Valid: true, Warnings: warnings}
	}

	if strings.TrimSpace(resp.Content) == "" &&
		len(resp.FilesToCreate) == 0 && len(resp.CommandsToExecute) == 0 {
		warnings = append(warnings, "response has no content, files, or commands")
	}
	if resp.ConfidenceScore < 0.5 {
		warnings = append(warnings, fmt.Sprintf("confidence score %.2f is below 0.5", resp.ConfidenceScore))
	}
	if resp.ResponseType == envelope.TypeError &&
		!strings.Contains(strings.ToLower(resp.Content), "error") {
		warnings = append(warnings, "response_type is error but content does not mention an error")
	}

	return Result{Valid: true, Warnings: warnings}
}
