package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/arena-sync/internal/logging"
)

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткий лог ответа.
type RequestLogger struct {
	logger *logging.Logger
}

func NewRequestLogger() *RequestLogger {
	return &RequestLogger{logger: logging.GetComponentLogger("http")}
}

// TraceID идентификатор запроса, выставленный Handler
func TraceID(c *gin.Context) string {
	return c.GetString("trace_id")
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// trace-id из OpenTelemetry, если otelgin уже создал span
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			rl.logger.Warn("[HTTP] %s %s %d %s ip=%s trace=%s", c.Request.Method, path, status, latency, c.ClientIP(), traceID)
			return
		}
		rl.logger.Debug("[HTTP] %s %s %d %s ip=%s trace=%s", c.Request.Method, path, status, latency, c.ClientIP(), traceID)
	}
}
