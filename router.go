package main

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// RouterOptions configures the HTTP surface around the Handler.
type RouterOptions struct {
	BasePath       string
	APIKeys        map[string]struct{}
	AllowedOrigins []string
}

// newRouter wires middleware and routes. Health stays reachable without
// credentials; everything else requires a key when keys are configured.
func newRouter(h *Handler, logger *slog.Logger, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(
		requestIDMiddleware(),
		loggingMiddleware(logger),
		recoveryMiddleware(logger),
		corsMiddleware(opts.AllowedOrigins),
	)

	api := r.Group(opts.BasePath)
	api.GET("/health", handleHealth)

	protected := api.Group("")
	if len(opts.APIKeys) > 0 {
		protected.Use(authMiddleware(opts.APIKeys))
	}
	h.RegisterRoutes(protected)
	return r
}
