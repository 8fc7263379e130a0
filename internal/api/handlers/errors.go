package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kkhushie/fetchfriends.dev/internal/service"
	"github.com/kkhushie/fetchfriends.dev/pkg/logger"
)

// respondError 서비스 에러를 HTTP 상태 코드로 변환
func respondError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	msg := fallback

	switch {
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrQueueEntryNotFound),
		errors.Is(err, service.ErrSessionNotFound):
		status = http.StatusNotFound
		msg = err.Error()
	case errors.Is(err, service.ErrNotParticipant),
		errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
		msg = err.Error()
	case errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, service.ErrInvalidState):
		status = http.StatusUnauthorized
		msg = err.Error()
	case errors.Is(err, service.ErrFeedbackExists),
		errors.Is(err, service.ErrActiveEntryExists):
		status = http.StatusConflict
		msg = err.Error()
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidMode),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrInvalidSessionState),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, service.ErrInvalidProvider):
		status = http.StatusBadRequest
		msg = err.Error()
	}

	if status == http.StatusInternalServerError {
		logger.Error(fallback, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

// pagination ?limit=&offset= 파싱. 값 검증은 서비스가 한다
func pagination(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a number"})
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a number"})
			return 0, 0, false
		}
	}
	return limit, offset, true
}
