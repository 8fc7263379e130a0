package middleware

import (
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kkhushie/fetchfriends.dev/pkg/logger"
)

// Logger HTTP 요청 로깅 미들웨어
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"query", redactToken(query),
			"status", status,
			"latency", latency,
			"ip", c.ClientIP(),
		}
		if userID := UserID(c); userID != "" {
			fields = append(fields, "userId", userID)
		}

		switch {
		case status >= 500:
			logger.Error("HTTP Request", fields...)
		case status >= 400:
			logger.Warn("HTTP Request", fields...)
		default:
			logger.Info("HTTP Request", fields...)
		}
	}
}

// redactToken WebSocket 연결의 ?token= 값은 로그에 남기지 않는다
func redactToken(query string) string {
	if query == "" {
		return query
	}
	values, err := url.ParseQuery(query)
	if err != nil || values.Get("token") == "" {
		return query
	}
	values.Set("token", "REDACTED")
	return values.Encode()
}
