package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/metrics"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"go.uber.org/zap"
)

// RouterOptions carries the optional collaborators of the router.
type RouterOptions struct {
	RateLimit config.RateLimitConfig
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

func NewRouter(svc *service.WalletService, opts RouterOptions, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(log))
	if opts.Metrics != nil {
		r.Use(MetricsMiddleware(opts.Metrics.HTTPDuration))
	}
	if opts.RateLimit.RPS > 0 {
		r.Use(RateLimitMiddleware(opts.RateLimit.RPS, opts.RateLimit.Burst))
	}

	h := &handler{svc: svc}
	r.GET("/health", h.health)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	registerHandlers(r, h)
	return r
}
