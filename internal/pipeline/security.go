package pipeline

import (
	"fmt"
	"path"
	"strings"
)

// Violation names the security check that failed and what tripped it.
type Violation struct {
	Check  string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("security check %s failed: %s", v.Check, v.Detail)
}

// SecurityValidator screens an unpacked box before any camper sees it.
// A nil return means the box is clean.
type SecurityValidator interface {
	Check(u *Unpacked) *Violation
}

const (
	maxFileBytes  = 1 << 20  // per attachment
	maxTotalBytes = 10 << 20 // across all attachments
)

// dangerousPatterns are substrings that mark content as hostile
// regardless of claim. Matching is case-insensitive.
var dangerousPatterns = []string{
	"rm -rf",
	"rm -fr",
	"mkfs",
	"dd if=",
	":(){",
	"format c:",
	"del /f /s /q",
	"rd /s /q",
	"eval(",
	"exec(",
	"subprocess.",
	"os.system",
	"__import__",
	"powershell -enc",
	"invoke-expression",
	"certutil -urlcache",
	"curl | sh",
	"wget | sh",
}

// PatternValidator is the default screen: dangerous substrings in the
// task and attachments, path traversal, workspace escape, size caps,
// and binary content smuggled as text.
type PatternValidator struct{}

func NewPatternValidator() *PatternValidator { return &PatternValidator{} }

func (pv *PatternValidator) Check(u *Unpacked) *Violation {
	if v := scanText("task", u.Task); v != nil {
		return v
	}

	var total int
	for _, att := range u.Files {
		if v := checkPath(att.Path); v != nil {
			return v
		}
		if strings.ContainsRune(att.Content, '\x00') {
			return &Violation{Check: "binary_content", Detail: fmt.Sprintf("attachment %s contains NUL bytes", att.Path)}
		}
		if len(att.Content) > maxFileBytes {
			return &Violation{Check: "file_size", Detail: fmt.Sprintf("attachment %s exceeds %d bytes", att.Path, maxFileBytes)}
		}
		total += len(att.Content)
		if total > maxTotalBytes {
			return &Violation{Check: "total_size", Detail: fmt.Sprintf("attachments exceed %d bytes combined", maxTotalBytes)}
		}
		if v := scanText("attachment "+att.Path, att.Content); v != nil {
			return v
		}
	}

	for _, entry := range u.Context.TerminalHistory {
		if v := scanText("terminal_history", entry); v != nil {
			return v
		}
	}
	return nil
}

func scanText(where, text string) *Violation {
	lower := strings.ToLower(text)
	for _, pat := range dangerousPatterns {
		if strings.Contains(lower, pat) {
			return &Violation{
				Check:  "dangerous_pattern",
				Detail: fmt.Sprintf("%s contains forbidden pattern %q", where, pat),
			}
		}
	}
	return nil
}

// checkPath rejects traversal and absolute paths; attachment paths
// must stay relative to the workspace root.
func checkPath(p string) *Violation {
	if strings.Contains(p, "..") {
		return &Violation{Check: "path_traversal", Detail: fmt.Sprintf("path %q contains a parent reference", p)}
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return &Violation{Check: "path_escape", Detail: fmt.Sprintf("path %q is absolute", p)}
	}
	if len(p) >= 2 && p[1] == ':' {
		return &Violation{Check: "path_escape", Detail: fmt.Sprintf("path %q carries a drive letter", p)}
	}
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return &Violation{Check: "path_traversal", Detail: fmt.Sprintf("path %q escapes the workspace", p)}
	}
	return nil
}
