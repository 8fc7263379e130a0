package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kkhushie/fetchfriends.dev/internal/api/middleware"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/pkg/logger"
)

// MatchHandler 매칭 큐와 매칭 수락/거절
type MatchHandler struct {
	queue    QueueAPI
	sessions SessionAPI
}

func NewMatchHandler(queue QueueAPI, sessions SessionAPI) *MatchHandler {
	return &MatchHandler{
		queue:    queue,
		sessions: sessions,
	}
}

// JoinQueue 큐 참가. 이미 참가 중이면 기존 엔트리를 200 으로 돌려준다
func (h *MatchHandler) JoinQueue(c *gin.Context) {
	var req models.JoinQueueRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	result, err := h.queue.Enqueue(ctx, middleware.UserID(c), req.Mode, req.Params)
	if err != nil {
		respondError(c, err, "Failed to join queue")
		return
	}

	position, err := h.queue.PositionInQueue(ctx, result.Entry.ID)
	if err != nil {
		logger.Warn("Failed to get queue position", "entryId", result.Entry.ID, "error", err)
	}
	wait, err := h.queue.EstimateWait(ctx, result.Entry.Mode)
	if err != nil {
		logger.Warn("Failed to estimate wait", "mode", result.Entry.Mode, "error", err)
	}

	status := http.StatusCreated
	message := "Joined queue"
	if result.Existing {
		status = http.StatusOK
		message = "Already in queue"
	}
	c.JSON(status, gin.H{
		"message":       message,
		"queue":         result.Entry,
		"existing":      result.Existing,
		"position":      position,
		"estimatedWait": wait,
	})
}

// LeaveQueue 큐 이탈
func (h *MatchHandler) LeaveQueue(c *gin.Context) {
	entry, err := h.queue.Dequeue(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err, "Failed to leave queue")
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not in queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left queue", "queue": entry})
}

// QueueStatus 내 큐 상태, 순번, 예상 대기 시간
func (h *MatchHandler) QueueStatus(c *gin.Context) {
	view, err := h.queue.Status(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err, "Failed to get queue status")
		return
	}
	c.JSON(http.StatusOK, view)
}

// Heartbeat 대기 중임을 알린다
func (h *MatchHandler) Heartbeat(c *gin.Context) {
	entry, err := h.queue.Heartbeat(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err, "Failed to update heartbeat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": entry})
}

// EstimateWait ?mode=random|skill|goal (기본 random)
func (h *MatchHandler) EstimateWait(c *gin.Context) {
	mode := models.QueueMode(c.DefaultQuery("mode", string(models.QueueModeRandom)))
	wait, err := h.queue.EstimateWait(c.Request.Context(), mode)
	if err != nil {
		respondError(c, err, "Failed to estimate wait time")
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "estimatedWait": wait})
}

// QueueStats 모드별 대기 현황
func (h *MatchHandler) QueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get queue stats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"modes": stats})
}

// AcceptMatch 매칭된 세션 수락
func (h *MatchHandler) AcceptMatch(c *gin.Context) {
	session, err := h.sessions.Accept(c.Request.Context(), middleware.UserID(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, err, "Failed to accept match")
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// DeclineMatch 매칭된 세션 거절
func (h *MatchHandler) DeclineMatch(c *gin.Context) {
	if err := h.sessions.Decline(c.Request.Context(), middleware.UserID(c), c.Param("sessionId")); err != nil {
		respondError(c, err, "Failed to decline match")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Match declined"})
}

// MatchHistory 지난 매칭 기록
func (h *MatchHandler) MatchHistory(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	page, err := h.sessions.MatchHistory(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		respondError(c, err, "Failed to get match history")
		return
	}
	c.JSON(http.StatusOK, page)
}
