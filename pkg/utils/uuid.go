package utils

import (
	"github.com/google/uuid"
)

// GenerateUUID returns a random (v4) UUID string.
func GenerateUUID() string {
	return uuid.NewString()
}

// CustomKey builds the catalog key used for uploaded references that arrive
// without a natural key of their own.
func CustomKey() string {
	return "custom:" + GenerateUUID()
}
