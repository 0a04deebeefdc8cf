// Package reconcile normalizes the heterogeneous response shapes the
// riverboat backend (and older deployments of it) may return into a
// single CamperResponse record, inferring the response type when the
// server did not declare one.
package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/campfirevalley/riverboat/internal/envelope"
)

// Wrapper keys probed, in order, when the response is nested.
var nestingKeys = []string{"torch", "data.torch", "payload"}

// Keywords that mark free-text content as code when no stronger signal
// is present.
var codeKeywords = []string{"function", "class", "import", "def ", "public ", "private "}

// Parse turns a raw response body into a CamperResponse. Failures come
// back as *envelope.ErrorResponse: either the error the server
// explicitly declared, or PARSE_ERROR with the raw input preserved
// under details.originalResponse.
func Parse(raw []byte) (*envelope.CamperResponse, *envelope.ErrorResponse) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, parseError(string(raw), fmt.Sprintf("response is not valid JSON: %v", err))
	}

	top, ok := decoded.(map[string]any)
	if !ok {
		return nil, parseError(string(raw), "response is not a JSON object")
	}

	if errResp := explicitError(top); errResp != nil {
		return nil, errResp
	}

	candidate := unwrap(top)
	resp, err := toCamperResponse(candidate)
	if err != nil {
		return nil, parseError(string(raw), err.Error())
	}
	return resp, nil
}

// explicitError recognizes the two declared-error shapes: a response
// carrying an "error" field, or a bare ErrorResponse record.
func explicitError(top map[string]any) *envelope.ErrorResponse {
	if inner, ok := top["error"]; ok && inner != nil {
		switch v := inner.(type) {
		case map[string]any:
			return errorFromMap(v)
		case string:
			return envelope.NewError(envelope.CodePipeline, v, false)
		default:
			return envelope.NewError(envelope.CodePipeline, fmt.Sprintf("%v", v), false)
		}
	}

	// A top-level ErrorResponse has code+message but none of the
	// success-record fields.
	_, hasCode := top["code"].(string)
	_, hasMessage := top["message"].(string)
	_, hasContent := top["content"]
	_, hasRole := top["camper_role"]
	if hasCode && hasMessage && !hasContent && !hasRole {
		return errorFromMap(top)
	}
	return nil
}

func errorFromMap(m map[string]any) *envelope.ErrorResponse {
	code, _ := m["code"].(string)
	if code == "" {
		code = envelope.CodePipeline
	}
	message, _ := m["message"].(string)
	if message == "" {
		message = "server reported an error"
	}
	errResp := envelope.NewError(code, message, false)
	if details, ok := m["details"].(map[string]any); ok {
		errResp.Details = details
	}
	if retry, ok := m["retry_possible"].(bool); ok {
		errResp.RetryPossible = retry
	} else {
		errResp.RetryPossible = envelope.RetryableCode(code)
	}
	return errResp
}

// unwrap resolves the nesting variants: torch, then data.torch, then
// payload. When none match, the top object itself is the candidate.
func unwrap(top map[string]any) map[string]any {
	if inner, ok := top["torch"].(map[string]any); ok {
		return inner
	}
	if data, ok := top["data"].(map[string]any); ok {
		if inner, ok := data["torch"].(map[string]any); ok {
			return inner
		}
	}
	if inner, ok := top["payload"].(map[string]any); ok {
		return inner
	}
	return top
}

func toCamperResponse(m map[string]any) (*envelope.CamperResponse, error) {
	resp := &envelope.CamperResponse{
		FilesToCreate:     make([]envelope.FileToCreate, 0),
		CommandsToExecute: make([]string, 0),
		ConfidenceScore:   1.0,
	}

	resp.CamperRole, _ = m["camper_role"].(string)
	resp.Content, _ = m["content"].(string)

	if files, ok := m["files_to_create"].([]any); ok {
		for _, entry := range files {
			fm, ok := entry.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("files_to_create entry is not an object")
			}
			path, _ := fm["path"].(string)
			content, _ := fm["content"].(string)
			resp.FilesToCreate = append(resp.FilesToCreate, envelope.FileToCreate{Path: path, Content: content})
		}
	}
	if cmds, ok := m["commands_to_execute"].([]any); ok {
		for _, entry := range cmds {
			cmd, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("commands_to_execute entry is not a string")
			}
			resp.CommandsToExecute = append(resp.CommandsToExecute, cmd)
		}
	}
	if score, ok := m["confidence_score"].(float64); ok {
		resp.ConfidenceScore = score
	}

	resp.ResponseType = inferType(m, resp)
	return resp, nil
}

// inferType applies the fixed precedence order: explicit response_type,
// error indicators, commands present, files present, code keywords,
// suggestion. The commands/files checks deliberately precede the
// keyword scan.
func inferType(m map[string]any, resp *envelope.CamperResponse) envelope.ResponseType {
	if raw, ok := m["response_type"].(string); ok && raw != "" {
		return envelope.ResponseType(raw)
	}
	if hasErrorIndicator(m, resp.Content) {
		return envelope.TypeError
	}
	if len(resp.CommandsToExecute) > 0 {
		return envelope.TypeCommand
	}
	if len(resp.FilesToCreate) > 0 {
		return envelope.TypeCode
	}
	for _, kw := range codeKeywords {
		if strings.Contains(resp.Content, kw) {
			return envelope.TypeCode
		}
	}
	return envelope.TypeSuggestion
}

func hasErrorIndicator(m map[string]any, content string) bool {
	if v, ok := m["error"]; ok && v != nil {
		return true
	}
	if v, ok := m["errors"]; ok && v != nil {
		return true
	}
	return strings.Contains(content, "ERROR")
}

func parseError(raw, reason string) *envelope.ErrorResponse {
	errResp := envelope.NewError(envelope.CodeParse, reason, false)
	return errResp.WithDetail("originalResponse", raw)
}
