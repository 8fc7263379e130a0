package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwtutil "github.com/kkhushie/fetchfriends.dev/pkg/jwt"
)

// 인증 미들웨어가 gin.Context 에 저장하는 키
const (
	ContextUserID    = "userID"
	ContextUserName  = "userName"
	ContextUserEmail = "userEmail"
)

// TokenVerifier JWT 검증 (jwtutil.JWTManager)
type TokenVerifier interface {
	Verify(token string) (*jwtutil.Claims, error)
}

// Auth JWT 인증 미들웨어.
// Authorization: Bearer 헤더를 우선하고, 브라우저 WebSocket 연결을 위해 ?token= 도 받는다.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwtutil.ErrExpiredToken) {
				msg = "Token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": msg,
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserName, claims.Name)
		c.Set(ContextUserEmail, claims.Email)

		c.Next()
	}
}

// UserID 인증된 사용자 ID (Auth 뒤에서만 유효)
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}
