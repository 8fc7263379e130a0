package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kkhushie/fetchfriends.dev/pkg/logger"
	"github.com/kkhushie/fetchfriends.dev/pkg/ratelimit"
)

// 기본 규칙
var (
	// GlobalRule IP 당 15분에 100회
	GlobalRule = ratelimit.Rule{Name: "global", Limit: 100, Window: 15 * time.Minute}
	// AuthRule 로그인 시도. IP 당 15분에 5회
	AuthRule = ratelimit.Rule{Name: "auth", Limit: 5, Window: 15 * time.Minute}
	// MatchJoinRule 큐 참가. 사용자당 1분에 10회
	MatchJoinRule = ratelimit.Rule{Name: "match-join", Limit: 10, Window: time.Minute}
)

// KeyFunc 요청에서 rate limit 키 추출. 빈 문자열이면 제한하지 않는다
type KeyFunc func(*gin.Context) string

// IPKeyFunc uses only IP address (for public endpoints)
func IPKeyFunc(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// UserKeyFunc 인증된 사용자 ID, 없으면 IP
func UserKeyFunc(c *gin.Context) string {
	if userID := UserID(c); userID != "" {
		return "user:" + userID
	}
	return IPKeyFunc(c)
}

// RateLimit limiter 로 rule 을 적용하는 미들웨어.
// limiter 오류 시에는 로그만 남기고 요청을 통과시킨다 (fail-open).
func RateLimit(limiter ratelimit.Limiter, rule ratelimit.Rule, keyFunc KeyFunc) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = UserKeyFunc
	}

	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := keyFunc(c)
		if key == "" {
			c.Next()
			return
		}

		res, err := limiter.Allow(c.Request.Context(), key, rule)
		if err != nil {
			logger.Warn("Rate limit check failed", "rule", rule.Name, "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"message":    fmt.Sprintf("Too many requests. Limit: %d per %v", rule.Limit, rule.Window),
				"retryAfter": retryAfter,
			})
			return
		}

		c.Next()
	}
}
