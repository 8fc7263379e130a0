package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kkhushie/fetchfriends.dev/internal/api/middleware"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
)

type FeedbackHandler struct {
	feedback FeedbackAPI
}

func NewFeedbackHandler(feedback FeedbackAPI) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

// Submit 세션 상대에게 평가 남기기
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req models.SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fb, err := h.feedback.Submit(c.Request.Context(), middleware.UserID(c), c.Param("sessionId"), req)
	if err != nil {
		respondError(c, err, "Failed to submit feedback")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"feedback": fb})
}

func (h *FeedbackHandler) ForSession(c *gin.Context) {
	list, err := h.feedback.ForSession(c.Request.Context(), middleware.UserID(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, err, "Failed to get session feedback")
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": list})
}

func (h *FeedbackHandler) Received(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	list, err := h.feedback.Received(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		respondError(c, err, "Failed to get received feedback")
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": list})
}

func (h *FeedbackHandler) Given(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	list, err := h.feedback.Given(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		respondError(c, err, "Failed to get given feedback")
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": list})
}
