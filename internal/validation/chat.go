// Package validation normalizes and checks client input before it reaches
// the services.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"mazl/internal/models"
)

// Message page bounds.
const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 100
)

// MessageContent trims content and enforces the length bounds.
func MessageContent(content string) (string, error) {
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("message content must be valid UTF-8")
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("message content is required")
	}
	if n := utf8.RuneCountInString(trimmed); n > models.MaxMessageLength {
		return "", fmt.Errorf("message content too long (max %d characters)", models.MaxMessageLength)
	}
	return trimmed, nil
}

// MessagePage applies the default page size and caps it. A negative offset is rejected.
func MessagePage(limit, offset int) (int, int, error) {
	if offset < 0 {
		return 0, 0, fmt.Errorf("offset must not be negative")
	}
	switch {
	case limit <= 0:
		limit = DefaultMessageLimit
	case limit > MaxMessageLimit:
		limit = MaxMessageLimit
	}
	return limit, offset, nil
}
