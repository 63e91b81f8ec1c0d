package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Input validation utilities for run requests. Arguments reach the tool
// scripts as argv entries, never through a shell, but the scripts
// themselves interpolate them.

var tenantPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidatePath rejects file and directory arguments carrying shell
// metacharacters, control characters or a leading dash.
func ValidatePath(field, path string) error {
	if path == "" {
		return nil // optional
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%s contains a NUL byte", field)
	}
	if strings.HasPrefix(strings.TrimSpace(path), "-") {
		return fmt.Errorf("%s must not start with '-'", field)
	}
	dangerous := []string{"$(", "`", "&", "|", ";", "<", ">", "\n", "\r"}
	for _, d := range dangerous {
		if strings.Contains(path, d) {
			return fmt.Errorf("invalid characters in %s", field)
		}
	}
	return nil
}

// ValidateBound accepts an empty bound or a positive integer.
func ValidateBound(bound string) error {
	b := strings.TrimSpace(bound)
	if b == "" {
		return nil
	}
	for _, r := range b {
		if r < '0' || r > '9' {
			return fmt.Errorf("bound must be a positive integer, got %q", bound)
		}
	}
	if strings.TrimLeft(b, "0") == "" {
		return fmt.Errorf("bound must be a positive integer, got %q", bound)
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateTenantID validates tenant ID format
func ValidateTenantID(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("invalid tenant ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateRunID validates run ID format
func ValidateRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	if _, err := uuid.Parse(runID); err != nil {
		return fmt.Errorf("invalid run ID format")
	}
	return nil
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
