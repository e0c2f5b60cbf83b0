// Package http exposes the signaling bridge over HTTP and websocket.
package http

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/DO-2K23-26/beep-rtc/internal/adapters/signal"
	"github.com/DO-2K23-26/beep-rtc/internal/config"
)

type RouterConfig struct {
	Env       string
	Auth      string
	Secret    string
	RateLimit float64
	RateBurst int
}

// RouterConfigFrom picks the router settings out of the process config.
func RouterConfigFrom(cfg *config.Config) RouterConfig {
	return RouterConfig{
		Env:       cfg.Env,
		Auth:      cfg.Auth,
		Secret:    cfg.Secret,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}
}

func SetupRouter(ctx context.Context, cfg RouterConfig, svc signal.Service, ws *signal.SignalWSController) *gin.Engine {
	if cfg.Env != config.EnvDev {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"*"},
		ExposeHeaders:   []string{RequestIDHeader},
		MaxAge:          time.Hour,
	}))

	h := &handlers{svc: svc}
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/")
	if cfg.RateLimit > 0 {
		api.Use(RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))))
	}
	if cfg.Auth == config.AuthToken {
		api.Use(TokenAuth([]byte(cfg.Secret)))
	}
	api.POST("/offer/:session/:endpoint", h.offer)
	api.POST("/leave/:session/:endpoint", h.leave)
	if ws != nil {
		api.GET("/ws/:session/:endpoint", func(c *gin.Context) {
			key, ok := endpointKey(c)
			if !ok {
				return
			}
			ws.HandleSignal(ctx, c, key)
		})
	}

	log.Info().Str("module", "adapters.http").Str("auth", cfg.Auth).Float64("rate_limit", cfg.RateLimit).Msg("router setup")
	return r
}
