package schedule

import (
	"time"

	"fructosahel/backend/internal/models"
)

type CalendarDay struct {
	Day        int           `json:"day"`
	Tasks      []models.Task `json:"tasks"`
	Count      int           `json:"count"`
	HasOverdue bool          `json:"has_overdue"`
	IsToday    bool          `json:"is_today"`
}

type MonthView struct {
	Year         int           `json:"year"`
	Month        time.Month    `json:"month"`
	DaysInMonth  int           `json:"days_in_month"`
	FirstWeekday time.Weekday  `json:"first_weekday"`
	Days         []CalendarDay `json:"days"`
}

type MonthRef struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// TasksByDay groups the tasks due in (year, month) by day of month. Due dates
// are read in loc; tasks without a due date are ignored. The input slice is
// not modified.
func TasksByDay(tasks []models.Task, month time.Month, year int, loc *time.Location) map[int][]models.Task {
	if loc == nil {
		loc = time.UTC
	}

	byDay := make(map[int][]models.Task)
	for _, task := range tasks {
		if task.DueDate == nil {
			continue
		}
		due := task.DueDate.In(loc)
		if due.Year() != year || due.Month() != month {
			continue
		}
		byDay[due.Day()] = append(byDay[due.Day()], task)
	}
	return byDay
}

// BuildMonth renders every day of the month. Overdue and today flags are
// evaluated against now on each call.
func BuildMonth(tasks []models.Task, month time.Month, year int, now time.Time) MonthView {
	loc := now.Location()
	byDay := TasksByDay(tasks, month, year, loc)

	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	days := DaysInMonth(month, year)

	view := MonthView{
		Year:         year,
		Month:        month,
		DaysInMonth:  days,
		FirstWeekday: first.Weekday(),
		Days:         make([]CalendarDay, 0, days),
	}

	for d := 1; d <= days; d++ {
		dayTasks := byDay[d]
		if dayTasks == nil {
			dayTasks = []models.Task{}
		}

		hasOverdue := false
		for _, task := range dayTasks {
			if IsOverdue(now, task) {
				hasOverdue = true
				break
			}
		}

		view.Days = append(view.Days, CalendarDay{
			Day:        d,
			Tasks:      dayTasks,
			Count:      len(dayTasks),
			HasOverdue: hasOverdue,
			IsToday:    now.Year() == year && now.Month() == month && now.Day() == d,
		})
	}

	return view
}

func DaysInMonth(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func NextMonth(month time.Month, year int) MonthRef {
	if month == time.December {
		return MonthRef{Year: year + 1, Month: time.January}
	}
	return MonthRef{Year: year, Month: month + 1}
}

func PrevMonth(month time.Month, year int) MonthRef {
	if month == time.January {
		return MonthRef{Year: year - 1, Month: time.December}
	}
	return MonthRef{Year: year, Month: month - 1}
}

// MonthRange returns [start of month, start of next month) in loc.
func MonthRange(month time.Month, year int, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
