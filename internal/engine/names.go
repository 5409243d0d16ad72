package engine

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxNameLength bounds site names.
const MaxNameLength = 100

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SanitizeName trims surrounding whitespace and accepts only names made of
// letters, digits, underscore and dash. Site names double as folder names on
// the redirect host, so path separators and null bytes never get through.
func SanitizeName(input string) (string, error) {
	name := strings.TrimSpace(input)
	switch {
	case name == "":
		return "", newValidationError("name must not be empty", nil)
	case strings.Contains(name, "..") || strings.ContainsAny(name, `/\`):
		return "", newValidationError("path separators not allowed", nil)
	case strings.ContainsRune(name, 0):
		return "", newValidationError("null bytes not allowed", nil)
	case !validName.MatchString(name):
		return "", newValidationError("only letters, numbers, underscore, and dash allowed", nil)
	case len(name) > MaxNameLength:
		return "", newValidationError("maximum 100 characters", nil)
	}
	return name, nil
}

// RedirectArtifact describes the redirect page served for a site.
type RedirectArtifact struct {
	Folder string
	File   string
	Exists bool
}

// RedirectFolder strips a trailing "_url", "-url" and "url" (any case) from
// name, keeping the rest of it as typed.
func RedirectFolder(name string) string {
	for _, suffix := range []string{"_url", "-url", "url"} {
		if n := len(name) - len(suffix); n >= 0 && strings.EqualFold(name[n:], suffix) {
			name = name[:n]
		}
	}
	return name
}

// redirectArtifact looks for <root>/<folder>/index.php.
func redirectArtifact(root, name string) RedirectArtifact {
	folder := filepath.Join(root, RedirectFolder(name))
	file := filepath.Join(folder, "index.php")
	a := RedirectArtifact{Folder: folder, File: file}
	if fi, err := os.Stat(folder); err == nil && fi.IsDir() {
		if _, err := os.Stat(file); err == nil {
			a.Exists = true
		}
	}
	return a
}
