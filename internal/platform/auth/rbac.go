package auth

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Authorize rejects callers whose policy does not allow action.
func Authorize(action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !PolicyFromContext(c.Request().Context()).Allow(action) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("not allowed: %s", action))
			}
			return next(c)
		}
	}
}

// AuthorizeAny admits callers whose policy allows at least one of actions.
func AuthorizeAny(actions ...Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			policy := PolicyFromContext(c.Request().Context())
			for _, a := range actions {
				if policy.Allow(a) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "not allowed")
		}
	}
}
