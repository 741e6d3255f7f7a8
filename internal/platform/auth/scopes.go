package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Scope operations.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// RequireScope returns middleware that checks the caller holds a scope
// covering operation on resource. Scopes follow the SMART form
// "[context/]Resource.operation", e.g. "Patient.read" or "user/*.write".
func RequireScope(resource, operation string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasScope(c.Request().Context(), resource, operation) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required scope: %s.%s", resource, operation))
		}
	}
}

// HasScope reports whether the caller in ctx may perform operation on resource.
func HasScope(ctx context.Context, resource, operation string) bool {
	required := resource + "." + operation
	for _, scope := range ScopesFromContext(ctx) {
		if matchScope(scope, required) {
			return true
		}
	}
	return false
}

// matchScope checks if a granted scope covers the required scope.
// "*" stands for any resource or any operation.
func matchScope(granted, required string) bool {
	if granted == "" || required == "" {
		return false
	}
	if granted == required {
		return true
	}

	for _, prefix := range []string{"user/", "patient/", "system/"} {
		granted = strings.TrimPrefix(granted, prefix)
	}

	gRes, gOp, ok := strings.Cut(granted, ".")
	if !ok {
		return false
	}
	rRes, rOp, ok := strings.Cut(required, ".")
	if !ok {
		return false
	}

	resMatch := gRes == rRes || gRes == "*"
	opMatch := gOp == rOp || gOp == "*"
	return resMatch && opMatch
}
