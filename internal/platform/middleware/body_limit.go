package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
)

const defaultBodyLimit = 1 << 20

// BodyLimit caps request bodies: resource bodies of create and update, and
// form encoded POST _search queries. The limit is a size such as "512K",
// "1M" or "2G"; a bare number is bytes. Oversized requests fail with a 413
// carrying a too-costly OperationOutcome, whether the size is declared up
// front or only discovered while the handler reads.
func BodyLimit(limit string) echo.MiddlewareFunc {
	max := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > max {
				return tooLarge(max)
			}
			req.Body = &cappedBody{ReadCloser: req.Body, max: max, left: max}
			return next(c)
		}
	}
}

func tooLarge(max int64) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fhir.NewOperationOutcome(
		fhir.IssueSeverityError, fhir.IssueTypeTooCostly,
		fmt.Sprintf("Request body exceeds maximum allowed size of %d bytes", max)))
}

// cappedBody reads at most one byte past the limit, enough to tell an
// exact-size body from an oversized one.
type cappedBody struct {
	io.ReadCloser
	max  int64
	left int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.left < 0 {
		return 0, tooLarge(b.max)
	}
	if int64(len(p)) > b.left+1 {
		p = p[:b.left+1]
	}
	n, err := b.ReadCloser.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		return 0, tooLarge(b.max)
	}
	return n, err
}

// parseLimit reads "512K", "1M", "1MB", "2G" or a byte count. Empty or
// invalid input yields 1 MB.
func parseLimit(s string) int64 {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "B")
	if s == "" {
		return defaultBodyLimit
	}

	shift := 0
	switch s[len(s)-1] {
	case 'K':
		shift = 10
	case 'M':
		shift = 20
	case 'G':
		shift = 30
	}
	if shift > 0 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return defaultBodyLimit
	}
	return n << shift
}
