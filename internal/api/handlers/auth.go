package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kkhushie/fetchfriends.dev/internal/api/middleware"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/internal/service"
	"github.com/kkhushie/fetchfriends.dev/pkg/logger"
)

const (
	stateCookie       = "ff_oauth_state"
	stateCookieMaxAge = 10 * 60
)

type AuthHandler struct {
	auth          AuthAPI
	users         UserAPI
	frontendURL   string
	secureCookies bool
}

// NewAuthHandler frontendURL 은 로그인 후 돌아갈 프론트엔드 주소
func NewAuthHandler(auth AuthAPI, users UserAPI, frontendURL string, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		auth:          auth,
		users:         users,
		frontendURL:   strings.TrimRight(frontendURL, "/"),
		secureCookies: secureCookies,
	}
}

// Providers 사용 가능한 OAuth 제공자 목록
func (h *AuthHandler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.auth.Providers()})
}

// Login 제공자 로그인 페이지로 리다이렉트. state 는 쿠키로 보관
func (h *AuthHandler) Login(c *gin.Context) {
	provider := c.Param("provider")

	state, err := service.NewOAuthState()
	if err != nil {
		respondError(c, err, "Failed to start login")
		return
	}

	target, err := h.auth.AuthCodeURL(provider, state)
	if err != nil {
		if errors.Is(err, service.ErrInvalidProvider) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown provider: " + provider})
			return
		}
		respondError(c, err, "Failed to start login")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, stateCookieMaxAge, "/", "", h.secureCookies, true)
	c.Redirect(http.StatusTemporaryRedirect, target)
}

// Callback 제공자 콜백. 성공하면 프론트엔드로 토큰과 함께 리다이렉트
func (h *AuthHandler) Callback(c *gin.Context) {
	provider := c.Param("provider")

	expected, _ := c.Cookie(stateCookie)
	c.SetCookie(stateCookie, "", -1, "/", "", h.secureCookies, true)

	if errParam := c.Query("error"); errParam != "" {
		h.redirectError(c, errParam)
		return
	}
	if expected == "" || c.Query("state") != expected {
		logger.Warn("OAuth state mismatch", "provider", provider, "ip", c.ClientIP())
		h.redirectError(c, "invalid_state")
		return
	}

	result, err := h.auth.Callback(c.Request.Context(), provider, c.Query("code"))
	if err != nil {
		logger.Warn("OAuth callback failed", "provider", provider, "error", err)
		code := "auth_failed"
		if errors.Is(err, service.ErrInvalidProvider) {
			code = "unknown_provider"
		}
		h.redirectError(c, code)
		return
	}

	logger.Info("User logged in", "userId", result.User.ID, "provider", provider, "created", result.Created)

	q := url.Values{}
	q.Set("token", result.Token)
	if result.Created {
		q.Set("new", "true")
	}
	c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"/auth/callback?"+q.Encode())
}

// Me 토큰의 사용자
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err, "Failed to get user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Logout 토큰은 클라이언트가 버린다. 서버는 접속 상태만 offline 으로
func (h *AuthHandler) Logout(c *gin.Context) {
	userID := middleware.UserID(c)
	offline := models.AvailabilityOffline
	if _, err := h.users.SetAvailability(c.Request.Context(), userID, models.AvailabilityUpdate{Status: &offline}); err != nil {
		logger.Warn("Failed to mark user offline on logout", "userId", userID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// VerificationStatus 계정 검증 점수와 상태
func (h *AuthHandler) VerificationStatus(c *gin.Context) {
	v, err := h.auth.VerificationStatus(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err, "Failed to get verification status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": v})
}

func (h *AuthHandler) redirectError(c *gin.Context, code string) {
	c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"/auth/callback?error="+url.QueryEscape(code))
}
