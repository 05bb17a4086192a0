package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// sessionRoutePrefix is the route template prefix of session-scoped routes.
const sessionRoutePrefix = "/api/v1/sessions"

// AuditEntry records one access to a wizard session's patient data.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	SessionID  string
	Resource   string // form, consent, consent.generate, document, ...
	Action     string // read, create, update, delete
	Method     string
	Path       string
	IPAddress  string
	UserAgent  string
	StatusCode int
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request to a session-scoped route as a "consent_audit"
// line and hands the entry to each recorder. Recorder failures are logged
// and never fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if !strings.HasPrefix(route, sessionRoutePrefix) {
				return next(c)
			}

			err := next(c)

			req := c.Request()
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				SessionID:  c.Param("id"),
				Resource:   sessionResource(route),
				Action:     httpMethodToAction(req.Method),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "consent_audit").
				Str("request_id", entry.RequestID).
				Str("session_id", entry.SessionID).
				Str("resource", entry.Resource).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("session_access")

			return err
		}
	}
}

// sessionResource names the part of the session a route touches:
// "/api/v1/sessions/:id/consent/generate" -> "consent.generate",
// "/api/v1/sessions/:id" -> "session".
func sessionResource(route string) string {
	rest := strings.Trim(strings.TrimPrefix(route, sessionRoutePrefix), "/")
	parts := strings.Split(rest, "/")
	if len(parts) > 0 && strings.HasPrefix(parts[0], ":") {
		parts = parts[1:]
	}
	if len(parts) == 0 || parts[0] == "" {
		return "session"
	}
	return strings.Join(parts, ".")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
