package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// Maven coordinates end up in repository URL paths, so each segment is
// checked before any request is built from it.
var (
	groupIDRegex    = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)
	artifactIDRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)
)

const maxSegmentLength = 256

// ValidateCoordinate validates a Maven groupId/artifactId/version triple.
// An empty version is rejected with ErrCodeUnsupported: it means "every
// version" and no component handles that shape.
func ValidateCoordinate(groupID, artifactID, version string) error {
	if err := validateSegment("groupId", groupID, groupIDRegex); err != nil {
		return err
	}
	if err := validateSegment("artifactId", artifactID, artifactIDRegex); err != nil {
		return err
	}
	if strings.TrimSpace(version) == "" {
		return New(ErrCodeUnsupported, "indexing all versions of %s:%s is not supported", groupID, artifactID)
	}
	return validateVersion(version)
}

func validateSegment(field, value string, re *regexp.Regexp) error {
	if value == "" {
		return New(ErrCodeInvalidCoordinate, "%s cannot be empty", field)
	}
	if len(value) > maxSegmentLength {
		return New(ErrCodeInvalidCoordinate, "%s too long (max %d characters)", field, maxSegmentLength)
	}
	if strings.Contains(value, "..") {
		return New(ErrCodeInvalidCoordinate, "%s cannot contain path traversal sequences (..)", field)
	}
	if !re.MatchString(value) {
		return New(ErrCodeInvalidCoordinate, "invalid %s: %q", field, value)
	}
	return nil
}

func validateVersion(version string) error {
	if len(version) > maxSegmentLength {
		return New(ErrCodeInvalidCoordinate, "version too long (max %d characters)", maxSegmentLength)
	}
	for _, r := range version {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return New(ErrCodeInvalidCoordinate, "version contains invalid characters")
		}
	}
	for _, pattern := range []string{"..", "/", "\\"} {
		if strings.Contains(version, pattern) {
			return New(ErrCodeInvalidCoordinate, "version contains invalid characters: %q", pattern)
		}
	}
	return nil
}
