package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier, prefixed with "prefix_" when a prefix
// is given. The hyphens of the UUID are dropped so ids stay URL-path safe.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
