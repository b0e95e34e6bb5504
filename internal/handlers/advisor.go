package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fructosahel/backend/internal/analytics"
	"fructosahel/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Advisor interface {
	Available() bool
	Chat(ctx context.Context, req services.AdvisorRequest) (string, error)
}

type AdvisorHandler struct {
	advisor Advisor
	events  services.EventTracker
	log     logrus.FieldLogger
}

func NewAdvisorHandler(advisor Advisor, events services.EventTracker, log logrus.FieldLogger) *AdvisorHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AdvisorHandler{advisor: advisor, events: events, log: log}
}

func (h *AdvisorHandler) Chat(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if !h.advisor.Available() {
		respondError(c, http.StatusServiceUnavailable, "advisor_unavailable", "The farm advisor is not configured", nil)
		return
	}

	var req services.AdvisorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	reply, err := h.advisor.Chat(c.Request.Context(), req)
	switch {
	case errors.Is(err, services.ErrEmptyQuestion):
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	case errors.Is(err, services.ErrAdvisorUnavailable):
		respondError(c, http.StatusServiceUnavailable, "advisor_unavailable", "The farm advisor is not configured", nil)
		return
	case err != nil:
		h.log.WithError(err).WithField("user_id", userID).Error("advisor request failed")
		respondError(c, http.StatusBadGateway, "advisor_failed", "The farm advisor could not answer", nil)
		return
	}

	if h.events != nil {
		_ = h.events.Track(c.Request.Context(), analytics.Event{
			Name:      analytics.EventAdvisorQuestion,
			UserID:    userID.String(),
			Timestamp: time.Now(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}
