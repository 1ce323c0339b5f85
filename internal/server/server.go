// Package server exposes the bot's Prometheus metrics and a health probe over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Health reports whether the bot is connected to the gateway.
type Health func() bool

// Handler routes /metrics and /healthz.
func Handler(g prometheus.Gatherer, healthy Health) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) {
		if healthy != nil && !healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "offline"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "online"})
	})
	return r
}

// Run serves h on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, h http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		logger.Info().Msg("Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
