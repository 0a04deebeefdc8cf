package reconcile

import (
	"strings"
	"testing"

	"github.com/campfirevalley/riverboat/internal/envelope"
)

func TestParseFlatResponse(t *testing.T) {
	raw := `{"camper_role":"BackEndDev","response_type":"code","content":"done","files_to_create":[{"path":"hello.py","content":"print('hi')"}],"confidence_score":0.9}`
	resp, errResp := Parse([]byte(raw))
	if errResp != nil {
		t.Fatalf("Parse failed: %v", errResp)
	}
	if resp.CamperRole != "BackEndDev" || resp.ResponseType != envelope.TypeCode {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.FilesToCreate) != 1 || resp.FilesToCreate[0].Path != "hello.py" {
		t.Errorf("files = %+v", resp.FilesToCreate)
	}
	if resp.ConfidenceScore != 0.9 {
		t.Errorf("confidence = %v", resp.ConfidenceScore)
	}
}

func TestParseNestingVariants(t *testing.T) {
	cases := map[string]string{
		"torch":      `{"torch":{"content":"hello","camper_role":"Auditor"}}`,
		"data.torch": `{"data":{"torch":{"content":"hello","camper_role":"Auditor"}}}`,
		"payload":    `{"payload":{"content":"hello","camper_role":"Auditor"}}`,
		"flat":       `{"content":"hello","camper_role":"Auditor"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			resp, errResp := Parse([]byte(raw))
			if errResp != nil {
				t.Fatalf("Parse failed: %v", errResp)
			}
			if resp.Content != "hello" || resp.CamperRole != "Auditor" {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestParseTorchWinsOverPayload(t *testing.T) {
	raw := `{"torch":{"content":"from torch"},"payload":{"content":"from payload"}}`
	resp, errResp := Parse([]byte(raw))
	if errResp != nil {
		t.Fatalf("Parse failed: %v", errResp)
	}
	if resp.Content != "from torch" {
		t.Errorf("content = %q, torch key must win", resp.Content)
	}
}

func TestInferTypePrecedence(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want envelope.ResponseType
	}{
		{"explicit wins over everything",
			`{"response_type":"suggestion","commands_to_execute":["ls"],"content":"def x():"}`,
			envelope.TypeSuggestion},
		{"ERROR in content beats commands",
			`{"content":"ERROR: nope","commands_to_execute":["ls"]}`,
			envelope.TypeError},
		{"commands beat code keywords",
			`{"content":"class Foo {}","commands_to_execute":["ls -la"]}`,
			envelope.TypeCommand},
		{"files beat code keywords",
			`{"content":"plain text","files_to_create":[{"path":"a.py","content":"x"}]}`,
			envelope.TypeCode},
		{"def keyword means code",
			`{"content":"def handler(req):"}`,
			envelope.TypeCode},
		{"fallback is suggestion",
			`{"content":"maybe try restarting"}`,
			envelope.TypeSuggestion},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, errResp := Parse([]byte(tc.raw))
			if errResp != nil {
				t.Fatalf("Parse failed: %v", errResp)
			}
			if resp.ResponseType != tc.want {
				t.Errorf("type = %q, want %q", resp.ResponseType, tc.want)
			}
		})
	}
}

func TestErrorFieldSurfacesAsDeclaredError(t *testing.T) {
	_, errResp := Parse([]byte(`{"error":"backend exploded","content":"x","commands_to_execute":["ls"]}`))
	if errResp == nil {
		t.Fatal("expected declared error")
	}
	if errResp.Code != envelope.CodePipeline {
		t.Errorf("code = %q", errResp.Code)
	}
}

func TestParseDeclaredErrorObject(t *testing.T) {
	raw := `{"error":{"code":"SECURITY_VIOLATION","message":"path traversal","details":{"check":"path_traversal"}}}`
	_, errResp := Parse([]byte(raw))
	if errResp == nil {
		t.Fatal("expected error")
	}
	if errResp.Code != envelope.CodeSecurity || errResp.RetryPossible {
		t.Errorf("errResp = %+v", errResp)
	}
	if errResp.Details["check"] != "path_traversal" {
		t.Errorf("details = %v", errResp.Details)
	}
}

func TestParseBareErrorRecord(t *testing.T) {
	raw := `{"code":"NETWORK_HTTP_5XX","message":"upstream died"}`
	_, errResp := Parse([]byte(raw))
	if errResp == nil {
		t.Fatal("expected error")
	}
	if errResp.Code != envelope.CodeNetworkServer {
		t.Errorf("code = %q", errResp.Code)
	}
	if !errResp.RetryPossible {
		t.Error("5xx codes default to retryable")
	}
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{{{`,
		"not object":   `[1,2,3]`,
		"bad files":    `{"content":"x","files_to_create":["not an object"]}`,
		"bad commands": `{"content":"x","commands_to_execute":[42]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, errResp := Parse([]byte(raw))
			if errResp == nil {
				t.Fatal("expected parse error")
			}
			if errResp.Code != envelope.CodeParse {
				t.Errorf("code = %q, want PARSE_ERROR", errResp.Code)
			}
			orig, ok := errResp.Details["originalResponse"].(string)
			if !ok || orig != raw {
				t.Errorf("originalResponse = %q, want raw input preserved", orig)
			}
		})
	}
}

func TestConfidenceDefault(t *testing.T) {
	resp, errResp := Parse([]byte(`{"content":"hi"}`))
	if errResp != nil {
		t.Fatalf("Parse failed: %v", errResp)
	}
	if resp.ConfidenceScore != 1.0 {
		t.Errorf("confidence = %v, want default 1.0", resp.ConfidenceScore)
	}
}

func TestValidateResponseWarnings(t *testing.T) {
	empty := &envelope.CamperResponse{ResponseType: envelope.TypeSuggestion, ConfidenceScore: 1.0}
	res := ValidateResponse(empty)
	if !res.Valid {
		t.Error("validation must never reject")
	}
	if len(res.Warnings) == 0 {
		t.Error("empty response should warn")
	}

	low := &envelope.CamperResponse{Content: "x", ResponseType: envelope.TypeSuggestion, ConfidenceScore: 0.2}
	res = ValidateResponse(low)
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "confidence") {
			found = true
		}
	}
	if !found {
		t.Errorf("low confidence should warn, got %v", res.Warnings)
	}
}
