package fhir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// SetVersionHeaders sets ETag and Last-Modified headers on the response.
func SetVersionHeaders(c echo.Context, versionID string, lastModified string) {
	if versionID != "" {
		c.Response().Header().Set("ETag", FormatETag(versionID))
	}
	if lastModified != "" {
		c.Response().Header().Set("Last-Modified", lastModified)
	}
}

// CheckIfMatch validates the If-Match header against the current version.
// An absent header is an unconditional write and passes. A mismatch, or a
// header naming a resource that does not exist, is an ErrConflict.
func CheckIfMatch(c echo.Context, currentVersion string) error {
	ifMatch := c.Request().Header.Get("If-Match")
	if ifMatch == "" {
		return nil
	}

	expected, err := ParseETag(ifMatch)
	if err != nil {
		return fmt.Errorf("%w: invalid If-Match header: %v", ErrInvalidArgument, err)
	}

	if expected != currentVersion {
		return fmt.Errorf("%w: expected version %s but resource is at version %q", ErrConflict, expected, currentVersion)
	}
	return nil
}

// ParseETag extracts the version from an ETag value like W/"3" or "3".
func ParseETag(etag string) (string, error) {
	etag = strings.TrimSpace(etag)
	// Remove weak indicator
	etag = strings.TrimPrefix(etag, "W/")
	// Remove quotes
	etag = strings.Trim(etag, `"`)

	if _, err := strconv.Atoi(etag); err != nil {
		return "", fmt.Errorf("ETag must contain a numeric version: %s", etag)
	}
	return etag, nil
}

// FormatETag creates a weak ETag from a version ID.
func FormatETag(versionID string) string {
	return fmt.Sprintf(`W/"%s"`, versionID)
}

// CheckIfNoneMatch checks If-None-Match for conditional reads.
// Returns true if the client's version matches (304 Not Modified should be returned).
func CheckIfNoneMatch(c echo.Context, currentVersion string) bool {
	ifNoneMatch := c.Request().Header.Get("If-None-Match")
	if ifNoneMatch == "" {
		return false
	}

	clientVersion, err := ParseETag(ifNoneMatch)
	if err != nil {
		return false
	}

	return clientVersion == currentVersion
}
