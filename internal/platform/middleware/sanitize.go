package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize is the maximum allowed size for any single header value.
const maxHeaderValueSize = 8192

// scriptPattern matches markup that has no business in a query string.
// Event handler attributes only count inside a tag, so values such as
// "version=2" pass.
var scriptPattern = regexp.MustCompile(`(?i)(<script|javascript\s*:|<[^>]*\bon\w+\s*=)`)

// Sanitize rejects requests with path traversal, null bytes, header
// injection, oversized headers or script fragments in query parameters.
// Rejected requests receive 400 and a warn log.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if reason := inspect(c.Request()); reason != "" {
				rid, _ := c.Get("request_id").(string)
				logger.Warn().
					Str("request_id", rid).
					Str("path", c.Request().URL.Path).
					Str("remote_ip", c.RealIP()).
					Str("reason", reason).
					Msg("request rejected")
				return errorJSON(c, http.StatusBadRequest, reason)
			}
			return next(c)
		}
	}
}

// inspect returns why req should be rejected, or "".
func inspect(req *http.Request) string {
	path := req.URL.Path
	rawPath := req.URL.RawPath
	if rawPath == "" {
		rawPath = path
	}

	if containsPathTraversal(path) || containsPathTraversal(rawPath) {
		return "path traversal detected"
	}
	if containsNullByte(path) || containsNullByte(rawPath) {
		return "null byte injection detected"
	}

	for name, values := range req.Header {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "header value exceeds maximum size: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection detected: " + name
			}
		}
	}

	for key, values := range req.URL.Query() {
		if containsNullByte(key) || scriptPattern.MatchString(key) {
			return "invalid query parameter name"
		}
		for _, v := range values {
			if containsNullByte(v) {
				return "null byte injection detected in query parameter"
			}
			if scriptPattern.MatchString(v) {
				return "script injection detected in query parameter"
			}
		}
	}
	return ""
}

// containsPathTraversal checks for ".." in raw and percent-encoded forms.
func containsPathTraversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(s, "..") ||
		strings.Contains(lower, "%2e%2e") ||
		strings.Contains(lower, "%252e")
}

// containsNullByte checks for null bytes in raw and percent-encoded forms.
func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}
