package fhir

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// SetVersionHeaders sets ETag and Last-Modified from a stored version.
func SetVersionHeaders(c echo.Context, r *Resource) {
	h := c.Response().Header()
	h.Set("ETag", FormatETag(r.VersionID))
	h.Set("Last-Modified", r.LastUpdated.UTC().Format(http.TimeFormat))
}

// ParseETag extracts the version from W/"n", "n" or n.
func ParseETag(etag string) (int, error) {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)

	v, err := strconv.Atoi(etag)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("ETag must contain a positive version: %s", etag)
	}
	return v, nil
}

// FormatETag creates a weak ETag from a version id.
func FormatETag(versionID int) string {
	return fmt.Sprintf(`W/"%d"`, versionID)
}

// IfMatch returns the version named by If-Match, or 0 when the header is
// absent.
func IfMatch(c echo.Context) (int, error) {
	v := c.Request().Header.Get("If-Match")
	if v == "" {
		return 0, nil
	}
	return ParseETag(v)
}

// NotModified reports whether If-None-Match names version.
func NotModified(c echo.Context, version int) bool {
	v := c.Request().Header.Get("If-None-Match")
	if v == "" {
		return false
	}
	if strings.TrimSpace(v) == "*" {
		return true
	}
	got, err := ParseETag(v)
	return err == nil && got == version
}
