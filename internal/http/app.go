// Package http holds the contract between the router and the modules that
// expose pipeline endpoints.
package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/config"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/httpkit"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

// RouterConfig is the configuration the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker backs the readiness probe.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Module mounts its routes on the shared groups.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// App is what the composition root hands to the router.
type App struct {
	Config  RouterConfig
	Logger  *logger.Logger
	Health  HealthChecker
	Modules []Module
}

// RouterContext exposes the route groups modules attach to.
type RouterContext struct {
	// Protected requires a valid access token.
	Protected *gin.RouterGroup
	// Admin additionally requires the admin role.
	Admin *gin.RouterGroup
	// AdminRateLimiter throttles expensive admin endpoints per caller.
	AdminRateLimiter *httpkit.CallerRateLimiter
}
