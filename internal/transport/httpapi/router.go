// Package httpapi публикует операции над заказами по HTTP/JSON.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
)

// BasePath - префикс маршрутов заказов.
const BasePath = "/api/v1/orders"

// Options задаёт зависимости роутера.
type Options struct {
	Logger  *log.Entry
	Metrics *metrics.HTTPMetrics
}

// NewRouter собирает gin.Engine с маршрутами заказов и служебными middleware.
func NewRouter(svc OrderService, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestMetrics(opts.Metrics), accessLog(logger))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: codeNotFound, Message: "route not found"})
	})

	h := &orderHandler{
		svc:       svc,
		validate:  newValidator(),
		logger:    logger,
		routeBase: BasePath,
	}

	group := r.Group(BasePath)
	group.POST("", h.create)
	group.GET("", h.list)
	group.GET("/report/sales-per-day", h.salesPerDay)
	group.GET("/:id", h.get)
	group.PUT("/:id/confirm", h.confirm)
	group.PUT("/:id/cancel", h.cancel)

	return r
}

func requestMetrics(m *metrics.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		m.RequestStarted()
		c.Next()
		m.RequestFinished(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(started))
	}
}

func accessLog(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		entry := logger.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(started).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("http request")
			return
		}
		entry.Info("http request")
	}
}
