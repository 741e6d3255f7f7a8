package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists the infrastructure and discovery endpoints served
// without credentials.
var publicPaths = map[string]bool{
	"/health":        true,
	"/metrics":       true,
	"/fhir/metadata": true,
}

// AuthSkipper returns true for requests whose route is public. It is the
// Skipper of JWTConfig.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path is a public endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
