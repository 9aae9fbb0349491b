package storage

import (
	"fmt"
	"path"
	"strings"
)

const maxObjectKeyLength = 1024

// ValidateObjectKey rejects keys that are empty, absolute, too long, or that
// escape their prefix.
func ValidateObjectKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("object key is required")
	}
	if len(key) > maxObjectKeyLength {
		return fmt.Errorf("object key exceeds %d bytes", maxObjectKeyLength)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("object key %q must be relative", key)
	}
	if strings.ContainsAny(key, "\\\x00") {
		return fmt.Errorf("object key %q contains invalid characters", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("object key %q is not canonical", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("object key %q escapes its prefix", key)
		}
	}
	return nil
}
