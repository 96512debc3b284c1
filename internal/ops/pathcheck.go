package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/dayloom/internal/errors"
)

// exportExtensions lists the file types ExportDay may write.
var exportExtensions = map[string]ExportFormat{
	".md":   FormatMarkdown,
	".html": FormatHTML,
}

// ValidateExportPath checks a destination for ExportDay:
// 1. Path traversal (.. sequences)
// 2. Extension (.md or .html)
// 3. The file must be DIRECTLY in exportsDir (no subdirectories)
// 4. Neither the parent directory nor the file may be a symlink
//
// Requiring the file to sit directly in the exports directory leaves no
// intermediate directory to swap for a symlink between this check and the
// O_NOFOLLOW open.
func ValidateExportPath(path, exportsDir string) (ExportFormat, error) {
	if path == "" {
		return "", errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return "", errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	format, ok := exportExtensions[strings.ToLower(filepath.Ext(cleaned))]
	if !ok {
		return "", errors.NewInvalidRequest("path must have .md or .html extension")
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}
	allowed, err := filepath.Abs(filepath.Clean(exportsDir))
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid exports directory: %v", err))
	}

	parentDir := filepath.Dir(absPath)
	if parentDir != allowed {
		return "", errors.NewInvalidRequest(
			fmt.Sprintf("file must be directly in the exports directory (no subdirectories): %s", allowed))
	}
	if info, err := os.Lstat(parentDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("parent directory must not be a symlink")
	}
	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("path must not be a symlink")
	}
	return format, nil
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	// Also check forward slashes on all platforms (e.g., user input)
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
