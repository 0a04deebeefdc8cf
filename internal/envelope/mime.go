package envelope

import (
	"path/filepath"
	"strings"
)

var fileTypeByExt = map[string]string{
	".py":   "text/python",
	".go":   "text/go",
	".js":   "text/javascript",
	".ts":   "text/typescript",
	".html": "text/html",
	".css":  "text/css",
	".json": "application/json",
	".yaml": "text/yaml",
	".yml":  "text/yaml",
	".md":   "text/markdown",
	".txt":  "text/plain",
	".sh":   "text/shell",
	".bat":  "text/batch",
	".ps1":  "text/powershell",
}

// FileTypeFor returns the MIME-like type string for a generated file
// path, defaulting to text/plain.
func FileTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := fileTypeByExt[ext]; ok {
		return t
	}
	return "text/plain"
}
