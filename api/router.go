// Package api assembles the HTTP surface of relationd.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/relationd/api/rest"
	"github.com/kasuganosora/relationd/cache"
	"github.com/kasuganosora/relationd/config"
	mw "github.com/kasuganosora/relationd/middleware"
	"github.com/kasuganosora/relationd/relation"
	"github.com/kasuganosora/relationd/scheduler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Config    *config.Config
	DB        *gorm.DB
	Cache     cache.Cache
	Relations *relation.Service
	Audit     rest.Auditor
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	logger := d.Logger

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.CORS(cfg.Security.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(mw.Metrics())
	}
	if cfg.Security.RateLimitRPS > 0 {
		r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))
	}

	r.GET("/health", health(d))
	if cfg.Metrics.Enabled {
		r.GET("/metrics", mw.IPWhitelist(cfg.Metrics.AllowedIPs), gin.WrapH(promhttp.Handler()))
	}

	auth := mw.Auth(cfg.Security, d.Cache)

	authH := rest.NewAuthHandler(d.DB, d.Cache, cfg.Security)
	relH := rest.NewRelationshipHandler(d.Relations, d.Audit, logger)
	notifH := rest.NewNotificationHandler(d.DB)
	userH := rest.NewUserHandler(d.DB)
	adminH := rest.NewAdminHandler(d.DB, d.Cache, d.Scheduler, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", auth, authH.Logout)
		authG.POST("/refresh", auth, authH.Refresh)

		relG := api.Group("/relationships", auth)
		relG.POST("", relH.Handle)
		relG.GET("/status/:user_id", relH.Status)
		relG.GET("/friends", relH.ListFriends)
		relG.GET("/pending", relH.ListPending)

		notifG := api.Group("/notifications", auth)
		notifG.GET("", notifH.List)
		notifG.POST("/:id/read", notifH.MarkRead)

		api.GET("/users/me", auth, userH.Me)

		adminG := api.Group("/admin", rest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/stats", adminH.Stats)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

// health reports whether the database and the session cache answer within
// a second. Either failing yields 503 so load balancers drain the instance.
func health(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		checks := gin.H{"db": "ok", "cache": "ok"}
		status := http.StatusOK
		if sqlDB, err := d.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["db"] = "down"
			status = http.StatusServiceUnavailable
		}
		if err := d.Cache.Ping(ctx); err != nil {
			checks["cache"] = "down"
			status = http.StatusServiceUnavailable
		}
		if status != http.StatusOK {
			d.Logger.Warn("health check failed", zap.Any("checks", checks))
			c.JSON(status, gin.H{"status": "degraded", "checks": checks})
			return
		}
		c.JSON(status, gin.H{"status": "ok", "checks": checks})
	}
}
