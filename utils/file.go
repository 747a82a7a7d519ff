package utils

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// SafeJoinDir joins subdir onto parent and fails unless the result is strictly inside parent.
func SafeJoinDir(parent, subdir string) (string, error) {
	joined := filepath.Join(parent, subdir)
	rel, err := filepath.Rel(parent, joined)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return joined, errors.Errorf("unsafe path join: %q with %q", parent, subdir)
	}
	return joined, nil
}
