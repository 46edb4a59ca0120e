// Package http holds the pieces the router assembles: the App with its shared
// infrastructure and the Module contract each feature package satisfies.
package http

import (
	"fieldservice_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module is a feature package with HTTP routes: automation rules and intake,
// notifications, realtime streams.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext hands modules the route groups they may mount on.
type RouterContext struct {
	// V1 is /api/v1 without authentication.
	V1 *gin.RouterGroup
	// Protected requires a valid tenant token; the location comes from its claims.
	Protected *gin.RouterGroup
	// Admin additionally requires the admin role. Rule management lives here.
	Admin *gin.RouterGroup
	// IntakeRateLimiter throttles per client IP on endpoints that ingest events
	// from other services.
	IntakeRateLimiter *httpkit.IPRateLimiter
}
