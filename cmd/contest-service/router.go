package main

import (
	"context"
	"net/http"
	"time"

	commonmw "eduoj/internal/common/http/middleware"
	"eduoj/internal/contest/controller"
	pkgerrors "eduoj/pkg/errors"
	"eduoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// pinger is a dependency the health endpoint probes.
type pinger interface {
	Ping(ctx context.Context) error
}

func buildHTTPServer(cfg ServerConfig, routes controller.Routes, deps map[string]pinger) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", healthHandler(deps))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	routes.Register(router.Group("/api/v1"))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func healthHandler(deps map[string]pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := make(map[string]string, len(deps))
		healthy := true
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, response.Response{
				Code:    pkgerrors.ServiceUnavailable,
				Message: "unhealthy",
				Data:    status,
			})
			return
		}
		response.Success(c, status)
	}
}
