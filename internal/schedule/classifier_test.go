package schedule

import (
	"testing"
	"time"

	"fructosahel/backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func at(t time.Time) *time.Time { return &t }

func TestClassify(t *testing.T) {
	now := time.Date(2026, 5, 14, 10, 0, 0, 0, time.UTC)
	lookahead := 24 * time.Hour

	tests := []struct {
		name     string
		due      *time.Time
		status   models.TaskStatus
		expected Classification
	}{
		{"no due date", nil, models.TaskStatusPending, ClassNone},
		{"past pending", at(now.Add(-time.Hour)), models.TaskStatusPending, ClassOverdue},
		{"past in progress", at(now.Add(-48 * time.Hour)), models.TaskStatusInProgress, ClassOverdue},
		{"past completed", at(now.Add(-time.Hour)), models.TaskStatusCompleted, ClassNone},
		{"past cancelled", at(now.Add(-time.Hour)), models.TaskStatusCancelled, ClassNone},
		{"exactly now", at(now), models.TaskStatusPending, ClassDueSoon},
		{"inside window", at(now.Add(23 * time.Hour)), models.TaskStatusPending, ClassDueSoon},
		{"window end excluded", at(now.Add(lookahead)), models.TaskStatusPending, ClassNone},
		{"inside window in progress", at(now.Add(time.Hour)), models.TaskStatusInProgress, ClassNone},
		{"far future", at(now.Add(72 * time.Hour)), models.TaskStatusPending, ClassNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(now, tt.due, tt.status, lookahead))
		})
	}
}

func TestClassify_CompletedNeverOverdue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for offset := -1000; offset <= 1000; offset += 37 {
		due := now.Add(time.Duration(offset) * time.Hour)
		got := Classify(now, &due, models.TaskStatusCompleted, 24*time.Hour)
		assert.NotEqual(t, ClassOverdue, got, "offset %dh", offset)
	}
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("GMT", 0)
	start, end := DayBounds(time.Date(2026, 2, 28, 17, 45, 0, 0, loc))

	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, loc), end)
}
