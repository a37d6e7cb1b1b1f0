package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// authMiddleware validates the master key on API routes. An empty master key
// disables authentication entirely.
func authMiddleware(masterKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" {
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return authError(c, "missing or malformed authorization header, expected 'Bearer <token>'")
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(masterKey)) != 1 {
				return authError(c, "invalid master key")
			}
			return next(c)
		}
	}
}

func authError(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]any{
		"error": map[string]any{
			"type":    "authentication_error",
			"message": message,
		},
	})
}

// userID identifies the calling user for key resolution. Deployments front
// the gateway with their own auth and forward the identity in a header.
func userID(c echo.Context) string {
	if id := c.Request().Header.Get("X-User-Id"); id != "" {
		return id
	}
	return "default"
}
