package middleware

import (
	"github.com/labstack/echo/v4"
)

// errorJSON writes the service's error body, {"error": msg}.
func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
