package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kkhushie/fetchfriends.dev/internal/api/middleware"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
)

type SessionHandler struct {
	sessions SessionAPI
}

func NewSessionHandler(sessions SessionAPI) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// ListActive 진행 중이거나 대기 중인 내 세션
func (h *SessionHandler) ListActive(c *gin.Context) {
	sessions, err := h.sessions.ListActive(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err, "Failed to list sessions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// History ?status=completed|ended_early|reported&limit=&offset=
func (h *SessionHandler) History(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	status := models.SessionStatus(c.Query("status"))
	page, err := h.sessions.History(c.Request.Context(), middleware.UserID(c), status, limit, offset)
	if err != nil {
		respondError(c, err, "Failed to get session history")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// GetByRoom 프론트엔드 협업 화면은 roomId 로 들어온다
func (h *SessionHandler) GetByRoom(c *gin.Context) {
	session, err := h.sessions.GetByRoom(c.Request.Context(), middleware.UserID(c), c.Param("roomId"))
	if err != nil {
		respondError(c, err, "Failed to get session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) Join(c *gin.Context) {
	h.transition(c, h.sessions.Join, "Failed to join session")
}

func (h *SessionHandler) Leave(c *gin.Context) {
	h.transition(c, h.sessions.Leave, "Failed to leave session")
}

func (h *SessionHandler) Pause(c *gin.Context) {
	h.transition(c, h.sessions.Pause, "Failed to pause session")
}

func (h *SessionHandler) Resume(c *gin.Context) {
	h.transition(c, h.sessions.Resume, "Failed to resume session")
}

// Update 주제, 목표, 언어 수정
func (h *SessionHandler) Update(c *gin.Context) {
	var req models.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := h.sessions.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err, "Failed to update session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// SaveCollaboration 에디터/터미널/화이트보드/채팅/자료 스냅샷 저장
func (h *SessionHandler) SaveCollaboration(c *gin.Context) {
	var req models.SaveCollaborationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event, err := h.sessions.SaveCollaboration(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err, "Failed to save collaboration data")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event})
}

// Collaboration ?type= 로 종류를 거른다
func (h *SessionHandler) Collaboration(c *gin.Context) {
	kind := models.CollaborationKind(c.Query("type"))
	events, err := h.sessions.Collaboration(c.Request.Context(), middleware.UserID(c), c.Param("id"), kind)
	if err != nil {
		respondError(c, err, "Failed to get collaboration data")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *SessionHandler) Analytics(c *gin.Context) {
	view, err := h.sessions.Analytics(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get session analytics")
		return
	}
	c.JSON(http.StatusOK, view)
}

// Delete 종료된 세션만
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, err, "Failed to delete session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

type sessionTransition func(ctx context.Context, userID, sessionID string) (*models.Session, error)

func (h *SessionHandler) transition(c *gin.Context, fn sessionTransition, fallback string) {
	session, err := fn(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, fallback)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}
