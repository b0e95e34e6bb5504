// Package schedule holds the time-based rules applied to farm tasks: whether
// a task is overdue or due soon, and how tasks lay out on a month calendar.
// Everything here is a pure function of its inputs, including "now".
package schedule

import (
	"time"

	"fructosahel/backend/internal/models"
)

type Classification string

const (
	ClassNone    Classification = "none"
	ClassDueSoon Classification = "due_soon"
	ClassOverdue Classification = "overdue"
)

// Classify places a task relative to now. The due-soon window is
// [now, now+lookahead): inclusive at now, exclusive at its end.
func Classify(now time.Time, dueDate *time.Time, status models.TaskStatus, lookahead time.Duration) Classification {
	if dueDate == nil {
		return ClassNone
	}

	if dueDate.Before(now) {
		if status.Closed() {
			return ClassNone
		}
		return ClassOverdue
	}

	if status == models.TaskStatusPending && dueDate.Before(now.Add(lookahead)) {
		return ClassDueSoon
	}

	return ClassNone
}

func IsOverdue(now time.Time, task models.Task) bool {
	return Classify(now, task.DueDate, task.Status, 0) == ClassOverdue
}

// DayBounds returns midnight of t's day and the following midnight in t's location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
