package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/bereel/internal/errors"
)

// fallbackDirs are searched, in order, for an image whose JSON path does not
// exist as written. Older exports moved files without updating the JSON.
var fallbackDirs = []string{
	filepath.Join("Photos", "post"),
	filepath.Join("Photos", "bereal"),
	filepath.Join("Photos", "realmoji"),
}

// ResolveImage locates the file an export JSON path refers to.
// The returned path always lies inside root.
func ResolveImage(root, ref string) (string, error) {
	if ref == "" {
		return "", errors.NewInvalidRequest("image path is empty")
	}
	if containsTraversal(ref) {
		return "", errors.NewInvalidRequest("image path must not contain directory traversal (..)")
	}

	rel := strings.TrimLeft(filepath.FromSlash(ref), string(filepath.Separator))
	base := filepath.Base(rel)

	candidates := []string{filepath.Join(root, rel)}
	for _, dir := range fallbackDirs {
		candidates = append(candidates, filepath.Join(root, dir, base))
	}

	for _, c := range candidates {
		if !withinRoot(root, c) {
			continue
		}
		// Lstat: a symlink inside the export could point anywhere.
		info, err := os.Lstat(c)
		if err == nil && info.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", errors.NewNotFound(ref)
}

// withinRoot reports whether path is root itself or below it.
func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	// Check each path component
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	// Export JSON always uses forward slashes
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}

// SanitizeForFilename sanitizes a string for safe use in a filename.
// Conversation ids and message ids come from folder and file names in the
// export and end up as output path components.
func SanitizeForFilename(s string) string {
	// Replace path separators with dashes
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")

	// Replace ".." sequences (could be embedded)
	s = strings.ReplaceAll(s, "..", "-")

	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	s = result.String()

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}

	s = strings.Trim(s, "-")

	if s == "" {
		s = "unnamed"
	}

	return s
}
