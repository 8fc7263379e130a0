package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kkhushie/fetchfriends.dev/internal/api/middleware"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
)

type UserHandler struct {
	users UserAPI
}

func NewUserHandler(users UserAPI) *UserHandler {
	return &UserHandler{
		users: users,
	}
}

// GetCurrentUser 현재 사용자 정보 조회
func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err, "Failed to get user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// UpdateCurrentUser 프로필 수정 (보낸 필드만 반영)
func (h *UserHandler) UpdateCurrentUser(c *gin.Context) {
	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, err, "Failed to update user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// GetUser 다른 사용자의 공개 프로필
func (h *UserHandler) GetUser(c *gin.Context) {
	profile, err := h.users.GetPublic(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

// SearchUsers ?q=&languages=go,rust&experience=&limit=
func (h *UserHandler) SearchUsers(c *gin.Context) {
	q := models.UserSearch{
		Query:      c.Query("q"),
		Experience: models.ExperienceLevel(c.Query("experience")),
	}
	if langs := c.Query("languages"); langs != "" {
		for _, l := range strings.Split(langs, ",") {
			if l = strings.TrimSpace(l); l != "" {
				q.Languages = append(q.Languages, l)
			}
		}
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a number"})
			return
		}
		q.Limit = n
	}

	users, err := h.users.Search(c.Request.Context(), q)
	if err != nil {
		respondError(c, err, "Failed to search users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// UpdateAvailability 접속 상태와 찾는 것 변경
func (h *UserHandler) UpdateAvailability(c *gin.Context) {
	var req models.AvailabilityUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	availability, err := h.users.SetAvailability(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, err, "Failed to update availability")
		return
	}
	c.JSON(http.StatusOK, gin.H{"availability": availability})
}

// GetStats 세션/평판 통계
func (h *UserHandler) GetStats(c *gin.Context) {
	stats, err := h.users.Stats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err, "Failed to get user stats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// UpdateSettings 부분 JSON 을 기존 설정 위에 합친다
func (h *UserHandler) UpdateSettings(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64*1024))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	settings, err := h.users.UpdateSettings(c.Request.Context(), middleware.UserID(c), json.RawMessage(body))
	if err != nil {
		respondError(c, err, "Failed to update settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}
