package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fructosahel/backend/internal/cache"
	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/repositories"
	"fructosahel/backend/internal/schedule"
	"fructosahel/backend/internal/services"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	JobDueReminders = "due-reminders"
	JobOverdue      = "overdue"
	JobDailyDigest  = "daily-digest"
	JobAll          = "all"
)

var ErrUnknownJob = errors.New("unknown job")

type JobResult struct {
	Checked int    `json:"checked"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

type JobTaskStore interface {
	PendingAssignedDueBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.Task, error)
	PendingAssigneesDueBetween(ctx context.Context, from, to time.Time) ([]uuid.UUID, error)
	PendingOverdue(ctx context.Context, now time.Time) ([]models.Task, error)
	CountAssignedDueBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error)
}

type PreferenceLister interface {
	ListEnabled(ctx context.Context, flag string) ([]models.NotificationPreference, error)
}

type Sender interface {
	Dispatch(ctx context.Context, userID uuid.UUID, notificationType models.NotificationType, data map[string]interface{}) DispatchResult
}

// Ledger claims a notification key before sending. See cache.NotificationLedger.
type Ledger interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type JobRecorder interface {
	RecordJob(name string, duration time.Duration, checked, sent, failed, skipped int)
}

type JobsDeps struct {
	Tasks       JobTaskStore
	Preferences PreferenceLister
	// Resolver covers assignees without a stored preference row. When nil,
	// due reminders only reach users who saved preferences.
	Resolver PreferenceResolver
	Sender   Sender
	// Ledger is nil when de-duplication is disabled.
	Ledger   Ledger
	Metrics  JobRecorder
	Location *time.Location
	Log      logrus.FieldLogger
}

// Jobs are the scheduled batch entry points. Each run is independent; with
// no ledger, overlapping runs in the same window can send duplicates.
type Jobs struct {
	tasks       JobTaskStore
	prefs       PreferenceLister
	resolver    PreferenceResolver
	sender      Sender
	ledger      Ledger
	metrics     JobRecorder
	loc         *time.Location
	log         logrus.FieldLogger
	concurrency int
	now         func() time.Time
}

func NewJobs(deps JobsDeps, concurrency int) *Jobs {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if concurrency < 1 {
		concurrency = 16
	}
	return &Jobs{
		tasks:       deps.Tasks,
		prefs:       deps.Preferences,
		resolver:    deps.Resolver,
		sender:      deps.Sender,
		ledger:      deps.Ledger,
		metrics:     deps.Metrics,
		loc:         deps.Location,
		log:         deps.Log,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// delivery is one notification a job wants to send.
type delivery struct {
	userID  uuid.UUID
	subject uuid.UUID
	kind    models.NotificationType
	data    map[string]interface{}
}

type tally struct {
	mu sync.Mutex
	JobResult
}

func (t *tally) add(f func(r *JobResult)) {
	t.mu.Lock()
	f(&t.JobResult)
	t.mu.Unlock()
}

// reminderTarget is a user and the look-ahead window of their reminders.
type reminderTarget struct {
	userID uuid.UUID
	window time.Duration
}

func reminderWindow(hours int) time.Duration {
	if hours < models.MinReminderHours {
		hours = models.DefaultReminderHours
	}
	return time.Duration(hours) * time.Hour
}

// CheckAndSendDueReminders sends task_due_soon for every pending task due
// within each opted-in user's reminder window. Assignees who never saved
// preferences get the default window.
func (j *Jobs) CheckAndSendDueReminders(ctx context.Context) JobResult {
	start := time.Now()
	now := j.now()

	prefs, err := j.prefs.ListEnabled(ctx, repositories.FlagTaskReminders)
	if err != nil {
		return j.finish(JobDueReminders, start, JobResult{Error: fmt.Sprintf("failed to list preferences: %v", err)})
	}

	var result JobResult
	targets := make([]reminderTarget, 0, len(prefs))
	covered := make(map[uuid.UUID]bool, len(prefs))
	for _, pref := range prefs {
		covered[pref.UserID] = true
		targets = append(targets, reminderTarget{userID: pref.UserID, window: reminderWindow(pref.ReminderHoursBefore)})
	}
	targets = append(targets, j.defaultReminderTargets(ctx, now, covered, &result)...)

	var deliveries []delivery
	for _, target := range targets {
		tasks, err := j.tasks.PendingAssignedDueBetween(ctx, target.userID, now, now.Add(target.window))
		if err != nil {
			j.log.WithError(err).WithField("user_id", target.userID).Error("failed to load due tasks")
			result.Failed++
			continue
		}
		for _, task := range tasks {
			if schedule.Classify(now, task.DueDate, task.Status, target.window) != schedule.ClassDueSoon {
				continue
			}
			deliveries = append(deliveries, delivery{
				userID:  target.userID,
				subject: task.ID,
				kind:    models.NotificationTaskDueSoon,
				data:    services.TaskNotificationData(task),
			})
		}
	}

	result.Checked = len(deliveries)
	return j.finish(JobDueReminders, start, j.deliver(ctx, now, deliveries, result))
}

// defaultReminderTargets finds assignees with pending tasks inside the default
// window who have no stored preference row. Stored rows were already listed
// by ListEnabled, so anything the resolver reports as non-default is skipped.
func (j *Jobs) defaultReminderTargets(ctx context.Context, now time.Time, covered map[uuid.UUID]bool, result *JobResult) []reminderTarget {
	if j.resolver == nil {
		return nil
	}

	assignees, err := j.tasks.PendingAssigneesDueBetween(ctx, now, now.Add(reminderWindow(models.DefaultReminderHours)))
	if err != nil {
		j.log.WithError(err).Error("failed to list assignees with due tasks")
		result.Failed++
		return nil
	}

	var targets []reminderTarget
	for _, userID := range assignees {
		if covered[userID] {
			continue
		}
		pref, err := j.resolver.Resolve(ctx, userID)
		if err != nil {
			j.log.WithError(err).WithField("user_id", userID).Error("failed to resolve preferences")
			result.Failed++
			continue
		}
		if !pref.IsDefault || !pref.Allows(models.NotificationTaskDueSoon) {
			continue
		}
		targets = append(targets, reminderTarget{userID: userID, window: reminderWindow(pref.ReminderHoursBefore)})
	}
	return targets
}

// CheckAndSendOverdueNotifications sends task_overdue to the assignee of every
// pending task past its due date. Only the assignee's task_overdue flag applies.
func (j *Jobs) CheckAndSendOverdueNotifications(ctx context.Context) JobResult {
	start := time.Now()
	now := j.now()

	tasks, err := j.tasks.PendingOverdue(ctx, now)
	if err != nil {
		return j.finish(JobOverdue, start, JobResult{Error: fmt.Sprintf("failed to list overdue tasks: %v", err)})
	}

	deliveries := make([]delivery, 0, len(tasks))
	for _, task := range tasks {
		if task.AssignedTo == nil {
			continue
		}
		deliveries = append(deliveries, delivery{
			userID:  *task.AssignedTo,
			subject: task.ID,
			kind:    models.NotificationTaskOverdue,
			data:    services.TaskNotificationData(task),
		})
	}

	return j.finish(JobOverdue, start, j.deliver(ctx, now, deliveries, JobResult{Checked: len(deliveries)}))
}

// SendDailyDigests sends one daily_digest with the number of tasks due today
// to each opted-in user. Users with nothing due today get nothing.
func (j *Jobs) SendDailyDigests(ctx context.Context) JobResult {
	start := time.Now()
	now := j.now()
	dayStart, dayEnd := schedule.DayBounds(now.In(j.loc))

	prefs, err := j.prefs.ListEnabled(ctx, repositories.FlagDailyDigest)
	if err != nil {
		return j.finish(JobDailyDigest, start, JobResult{Error: fmt.Sprintf("failed to list preferences: %v", err)})
	}

	result := JobResult{Checked: len(prefs)}
	var deliveries []delivery
	for _, pref := range prefs {
		count, err := j.tasks.CountAssignedDueBetween(ctx, pref.UserID, dayStart, dayEnd)
		if err != nil {
			j.log.WithError(err).WithField("user_id", pref.UserID).Error("failed to count tasks due today")
			result.Failed++
			continue
		}
		if count == 0 {
			continue
		}
		deliveries = append(deliveries, delivery{
			userID:  pref.UserID,
			subject: pref.UserID,
			kind:    models.NotificationDailyDigest,
			data: map[string]interface{}{
				"count": count,
				"date":  dayStart.Format("2006-01-02"),
				"url":   "/calendar",
			},
		})
	}

	return j.finish(JobDailyDigest, start, j.deliver(ctx, now, deliveries, result))
}

// RunAll runs the three jobs one after another.
func (j *Jobs) RunAll(ctx context.Context) map[string]JobResult {
	return map[string]JobResult{
		JobDueReminders: j.CheckAndSendDueReminders(ctx),
		JobOverdue:      j.CheckAndSendOverdueNotifications(ctx),
		JobDailyDigest:  j.SendDailyDigests(ctx),
	}
}

// Run dispatches by job name as used by the cron endpoint and scheduler.
func (j *Jobs) Run(ctx context.Context, name string) (map[string]JobResult, error) {
	switch name {
	case JobDueReminders:
		return map[string]JobResult{name: j.CheckAndSendDueReminders(ctx)}, nil
	case JobOverdue:
		return map[string]JobResult{name: j.CheckAndSendOverdueNotifications(ctx)}, nil
	case JobDailyDigest:
		return map[string]JobResult{name: j.SendDailyDigests(ctx)}, nil
	case JobAll:
		return j.RunAll(ctx), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
}

func (j *Jobs) deliver(ctx context.Context, now time.Time, deliveries []delivery, result JobResult) JobResult {
	t := &tally{JobResult: result}
	day := now.In(j.loc)

	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for _, dl := range deliveries {
		dl := dl
		g.Go(func() error {
			key := cache.LedgerKey(dl.subject, string(dl.kind), day)
			if !j.claim(ctx, key) {
				t.add(func(r *JobResult) { r.Skipped++ })
				return nil
			}

			res := j.sender.Dispatch(ctx, dl.userID, dl.kind, dl.data)
			if res.Success {
				t.add(func(r *JobResult) { r.Sent++ })
				return nil
			}

			t.add(func(r *JobResult) { r.Failed++ })
			j.release(ctx, key)
			return nil
		})
	}
	_ = g.Wait()

	return t.JobResult
}

// claim fails open: without a working ledger the notification is sent.
func (j *Jobs) claim(ctx context.Context, key string) bool {
	if j.ledger == nil {
		return true
	}
	ok, err := j.ledger.Claim(ctx, key)
	if err != nil {
		j.log.WithError(err).WithField("key", key).Warn("notification ledger unavailable, sending without de-duplication")
		return true
	}
	return ok
}

func (j *Jobs) release(ctx context.Context, key string) {
	if j.ledger == nil {
		return
	}
	if err := j.ledger.Release(ctx, key); err != nil {
		j.log.WithError(err).WithField("key", key).Warn("failed to release notification ledger key")
	}
}

func (j *Jobs) finish(name string, start time.Time, result JobResult) JobResult {
	fields := logrus.Fields{
		"job":     name,
		"checked": result.Checked,
		"sent":    result.Sent,
		"failed":  result.Failed,
		"skipped": result.Skipped,
	}
	if result.Error != "" {
		j.log.WithFields(fields).Error(result.Error)
	} else {
		j.log.WithFields(fields).Info("notification job finished")
	}
	if j.metrics != nil {
		j.metrics.RecordJob(name, time.Since(start), result.Checked, result.Sent, result.Failed, result.Skipped)
	}
	return result
}
