package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/repositories"
	"fructosahel/backend/internal/schedule"

	"github.com/gin-gonic/gin"
)

type MonthLister interface {
	Month(ctx context.Context, filter repositories.TaskFilter, month time.Month, year int, loc *time.Location) ([]models.Task, error)
}

type CalendarResponse struct {
	schedule.MonthView
	Prev schedule.MonthRef `json:"prev"`
	Next schedule.MonthRef `json:"next"`
}

// CalendarHandler renders month grids in the farm's timezone.
type CalendarHandler struct {
	tasks MonthLister
	loc   *time.Location
	now   func() time.Time
}

func NewCalendarHandler(tasks MonthLister, loc *time.Location) *CalendarHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarHandler{tasks: tasks, loc: loc, now: time.Now}
}

func (h *CalendarHandler) GetMonth(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if !scopeAllowed(c, actor) {
		return
	}

	now := h.now().In(h.loc)
	month, year := now.Month(), now.Year()

	if raw := c.Query("month"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 1 || m > 12 {
			respondError(c, http.StatusBadRequest, "invalid_month", "month must be between 1 and 12", nil)
			return
		}
		month = time.Month(m)
	}
	if raw := c.Query("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil || y < 1970 || y > 9999 {
			respondError(c, http.StatusBadRequest, "invalid_year", "year must be between 1970 and 9999", nil)
			return
		}
		year = y
	}

	var filter repositories.TaskFilter
	if c.Query("scope") != "all" {
		filter.Involving = &actor.ID
	}

	tasks, err := h.tasks.Month(c.Request.Context(), filter, month, year, h.loc)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", "Failed to load calendar", nil)
		return
	}

	c.JSON(http.StatusOK, CalendarResponse{
		MonthView: schedule.BuildMonth(tasks, month, year, now),
		Prev:      schedule.PrevMonth(month, year),
		Next:      schedule.NextMonth(month, year),
	})
}
