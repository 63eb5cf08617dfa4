package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"visitguard/internal/model"
	"visitguard/internal/pipeline"
)

const maxBodyBytes = 64 << 10

type tracker interface {
	Track(ctx context.Context, ev model.VisitEvent, meta model.RequestMeta) (model.TrackResponse, error)
	Lookup(ctx context.Context, ip string) (pipeline.LookupResult, error)
}

type api struct {
	pipeline tracker
	degraded func() bool
	log      *zap.Logger
	// trustedProxies lists the CIDRs or addresses allowed to set forwarding
	// headers. Empty means the peer address is always the client IP.
	trustedProxies []string
}

func newRouter(a *api, middleware ...gin.HandlerFunc) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(a.trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())
	router.Use(middleware...)

	router.GET("/healthz", a.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/v1/track", a.track)
	router.GET("/v1/lookup/:ip", a.lookup)
	return router, nil
}

func (a *api) health(c *gin.Context) {
	degraded := a.degraded != nil && a.degraded()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "cacheDegraded": degraded})
}

func (a *api) track(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var evt model.VisitEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, model.TrackResponse{Message: "invalid json"})
		return
	}
	meta := model.RequestMeta{
		IP:         c.ClientIP(),
		UserAgent:  c.GetHeader("User-Agent"),
		ReceivedAt: time.Now(),
	}
	resp, err := a.pipeline.Track(c.Request.Context(), evt, meta)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, pipeline.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, model.TrackResponse{Message: err.Error()})
	case errors.Is(err, pipeline.ErrUnknownTrackingCode):
		c.JSON(http.StatusNotFound, model.TrackResponse{Message: "unknown tracking code"})
	default:
		a.log.Error("track failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.TrackResponse{Message: "internal error"})
	}
}

func (a *api) lookup(c *gin.Context) {
	res, err := a.pipeline.Lookup(c.Request.Context(), c.Param("ip"))
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a.log.Error("lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, res)
}
