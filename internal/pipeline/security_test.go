package pipeline

import (
	"strings"
	"testing"

	"github.com/campfirevalley/riverboat/internal/envelope"
)

func cleanUnpacked() *Unpacked {
	return &Unpacked{
		BoxID:         "01TEST",
		Claim:         envelope.ClaimGenerateCode,
		Task:          "Create a hello world function",
		OS:            envelope.OSLinux,
		WorkspaceRoot: "/home/dev/project",
	}
}

func TestPatternValidatorCleanBox(t *testing.T) {
	pv := NewPatternValidator()
	u := cleanUnpacked()
	u.Files = []envelope.Attachment{
		{Path: "src/main.py", Content: "print('hi')", Type: "text/python", Timestamp: "t"},
	}
	if v := pv.Check(u); v != nil {
		t.Fatalf("clean box rejected: %v", v)
	}
}

func TestPatternValidatorDangerousTask(t *testing.T) {
	pv := NewPatternValidator()
	cases := []string{
		"please RM -RF / the disk",
		"run dd if=/dev/zero of=/dev/sda",
		"call os.system('whoami') for me",
		"use subprocess.Popen to spawn a shell",
	}
	for _, task := range cases {
		u := cleanUnpacked()
		u.Task = task
		v := pv.Check(u)
		if v == nil {
			t.Errorf("task %q should be rejected", task)
			continue
		}
		if v.Check != "dangerous_pattern" {
			t.Errorf("task %q: check = %q", task, v.Check)
		}
	}
}

func TestPatternValidatorDangerousAttachment(t *testing.T) {
	pv := NewPatternValidator()
	u := cleanUnpacked()
	u.Files = []envelope.Attachment{
		{Path: "script.py", Content: "eval(user_input)", Type: "text/python", Timestamp: "t"},
	}
	v := pv.Check(u)
	if v == nil || v.Check != "dangerous_pattern" {
		t.Fatalf("eval() in attachment should be rejected, got %v", v)
	}
}

func TestPatternValidatorPathTraversal(t *testing.T) {
	pv := NewPatternValidator()
	cases := map[string]string{
		"../../etc/passwd":  "path_traversal",
		"src/../../escape":  "path_traversal",
		"/etc/shadow":       "path_escape",
		"\\windows\\system": "path_escape",
		"C:\\Windows\\cmd":  "path_escape",
	}
	for path, wantCheck := range cases {
		u := cleanUnpacked()
		u.Files = []envelope.Attachment{{Path: path, Content: "x", Type: "text/plain", Timestamp: "t"}}
		v := pv.Check(u)
		if v == nil {
			t.Errorf("path %q should be rejected", path)
			continue
		}
		if v.Check != wantCheck {
			t.Errorf("path %q: check = %q, want %q", path, v.Check, wantCheck)
		}
	}
}

func TestPatternValidatorSizeLimits(t *testing.T) {
	pv := NewPatternValidator()

	u := cleanUnpacked()
	u.Files = []envelope.Attachment{
		{Path: "big.txt", Content: strings.Repeat("a", maxFileBytes+1), Type: "text/plain", Timestamp: "t"},
	}
	if v := pv.Check(u); v == nil || v.Check != "file_size" {
		t.Errorf("oversized file: got %v", v)
	}

	u = cleanUnpacked()
	chunk := strings.Repeat("a", maxFileBytes)
	for i := 0; i < 11; i++ {
		u.Files = append(u.Files, envelope.Attachment{
			Path: "part.txt", Content: chunk, Type: "text/plain", Timestamp: "t",
		})
	}
	if v := pv.Check(u); v == nil || v.Check != "total_size" {
		t.Errorf("oversized total: got %v", v)
	}
}

func TestPatternValidatorBinaryContent(t *testing.T) {
	pv := NewPatternValidator()
	u := cleanUnpacked()
	u.Files = []envelope.Attachment{
		{Path: "blob.txt", Content: "abc\x00def", Type: "text/plain", Timestamp: "t"},
	}
	if v := pv.Check(u); v == nil || v.Check != "binary_content" {
		t.Errorf("NUL bytes: got %v", v)
	}
}

func TestPatternValidatorTerminalHistory(t *testing.T) {
	pv := NewPatternValidator()
	u := cleanUnpacked()
	u.Context.TerminalHistory = []string{"ls -la", "rm -rf /tmp/everything"}
	if v := pv.Check(u); v == nil || v.Check != "dangerous_pattern" {
		t.Errorf("dangerous terminal history: got %v", v)
	}
}
