package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware validates the API key header on every request except the
// listed public paths.
func AuthMiddleware(apiKey, headerName string, skipPaths []string) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := skip[c.Request().URL.Path]; ok {
				return next(c)
			}

			provided := c.Request().Header.Get(headerName)
			if provided == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": map[string]any{
						"type":    "authentication_error",
						"message": "missing API key",
					},
				})
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": map[string]any{
						"type":    "authentication_error",
						"message": "invalid API key",
					},
				})
			}

			return next(c)
		}
	}
}
