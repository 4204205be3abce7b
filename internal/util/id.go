package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewUniqueID returns a 32 character lowercase hex identifier backed by a
// random (version 4) UUID. Workspace and result store names embed it.
func NewUniqueID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ShortID returns the first eight characters of id for log output.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
