package util

import (
	"regexp"

	"github.com/google/uuid"
)

var sessionTokenRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// IsValidUUID accepts only the canonical lowercase form of a random (v4) UUID.
func IsValidUUID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122 && id.String() == s
}

// IsValidSessionToken reports whether s has the shape GenerateToken produces.
func IsValidSessionToken(s string) bool {
	return sessionTokenRegex.MatchString(s)
}
