package handlers

import (
	"regexp"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/logger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	CorrelationHeader = "X-Correlation-ID"
	correlationKey    = "correlation_id"
)

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

var registerOnce sync.Once

// RegisterValidators adds the `sku` tag to gin's validator.
func RegisterValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterValidation("sku", func(fl validator.FieldLevel) bool {
				return skuPattern.MatchString(fl.Field().String())
			})
		}
	})
}

// NewEngine returns a gin engine with recovery, tracing, correlation ids and
// zap request logging.
func NewEngine(serviceName string, log *zap.Logger) *gin.Engine {
	RegisterValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(CorrelationID())
	r.Use(RequestLogger(log))
	return r
}

// CorrelationID propagates X-Correlation-ID, generating one when absent.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(CorrelationHeader, id)
		c.Next()
	}
}

func correlationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// RequestLogger stores a request-scoped logger in the request context and
// logs every request when it completes.
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		log := logger.WithTraceContext(ctx, base.With(zap.String("correlation_id", correlationID(c))))
		c.Request = c.Request.WithContext(logger.WithContext(ctx, log))

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("HTTP request", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
