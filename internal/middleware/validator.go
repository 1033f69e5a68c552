package middleware

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

var (
	clinicIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	itemIDPattern   = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
)

// ValidateClinicID validates clinic ID format
func ValidateClinicID(clinic string) error {
	if clinic == "" {
		return fmt.Errorf("clinic ID cannot be empty")
	}

	if !clinicIDPattern.MatchString(clinic) {
		return fmt.Errorf("invalid clinic ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}

	return nil
}

// ValidateItemID validates item ID format
func ValidateItemID(itemID string) error {
	if itemID == "" {
		return fmt.Errorf("item ID cannot be empty")
	}

	if !itemIDPattern.MatchString(itemID) {
		return fmt.Errorf("invalid item ID format")
	}

	return nil
}

// ValidateMediaFileName checks an uploaded file name for traversal and
// shell-metacharacter tricks. Content type enforcement happens later.
func ValidateMediaFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}

	cleaned := filepath.Clean(name)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("path traversal detected")
	}

	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r", "\x00"}
	for _, d := range dangerous {
		if strings.Contains(name, d) {
			return fmt.Errorf("invalid characters in file name")
		}
	}

	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidateDays validates days parameter
func ValidateDays(days int) int {
	if days <= 0 {
		return 7 // default
	}
	if days > 365 {
		return 365 // max 1 year
	}
	return days
}
