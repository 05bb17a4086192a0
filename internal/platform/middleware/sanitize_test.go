package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		header  [2]string
		blocked bool
	}{
		{name: "clean request", target: "/api/v1/documents?session_id=abc&limit=10"},
		{name: "korean query", target: "/api/v1/documents?category=consent-form&q=%ED%99%8D%EA%B8%B8%EB%8F%99"},
		{name: "path traversal", target: "/api/v1/documents/../../etc/passwd", blocked: true},
		{name: "encoded traversal", target: "/api/v1/documents/%2e%2e/secret", blocked: true},
		{name: "null byte in query", target: "/api/v1/documents?session_id=a%00b", blocked: true},
		{name: "script in query", target: "/api/v1/documents?session_id=%3Cscript%3Ealert(1)", blocked: true},
		{name: "javascript url", target: "/api/v1/documents?next=javascript:alert(1)", blocked: true},
		{name: "assignment text in value", target: "/api/v1/documents?q=version%3D2"},
		{name: "nested query in value", target: "/api/v1/documents?next=%2Fdocs%3Fsession%3D1%26reason%3Dx"},
		{name: "event handler in tag", target: "/api/v1/documents?q=%3Cimg%20src%3Dx%20onerror%3Dalert(1)%3E", blocked: true},
		{name: "event handler in key", target: "/api/v1/documents?%3Cb%20onclick%3Dx%3E=1", blocked: true},
		{name: "oversized header", target: "/", header: [2]string{"X-Big", strings.Repeat("a", maxHeaderValueSize+1)}, blocked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header[0] != "" {
				req.Header.Set(tt.header[0], tt.header[1])
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			called := false
			err := Sanitize(zerolog.New(&buf))(func(c echo.Context) error {
				called = true
				return c.NoContent(http.StatusOK)
			})(c)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.blocked {
				if called || rec.Code != http.StatusBadRequest {
					t.Errorf("expected 400 without calling the handler, got %d called=%v", rec.Code, called)
				}
				if !strings.Contains(buf.String(), "request rejected") {
					t.Errorf("expected warn log, got %s", buf.String())
				}
			} else if !called {
				t.Errorf("expected handler to be called, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestInspect_HeaderInjection(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header["X-Evil"] = []string{"a\r\nSet-Cookie: x=1"}
	if reason := inspect(req); !strings.Contains(reason, "header injection") {
		t.Errorf("expected header injection, got %q", reason)
	}
}
