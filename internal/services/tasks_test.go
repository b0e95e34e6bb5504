package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"fructosahel/backend/internal/analytics"
	"fructosahel/backend/internal/database"
	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/repositories"
	"fructosahel/backend/internal/services"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentNotification struct {
	userID uuid.UUID
	kind   models.NotificationType
	data   map[string]interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uuid.UUID, kind models.NotificationType, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{userID: userID, kind: kind, data: data})
}

type recordingTracker struct {
	events []analytics.Event
}

func (r *recordingTracker) Track(ctx context.Context, event analytics.Event) error {
	r.events = append(r.events, event)
	return nil
}

type taskFixture struct {
	service  *services.TaskService
	notifier *recordingNotifier
	tracker  *recordingTracker
	owner    models.User
	worker   models.User
}

func newTaskFixture(t *testing.T) taskFixture {
	t.Helper()
	pool, err := database.NewSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	owner := models.User{Email: "owner@example.com"}
	worker := models.User{Email: "worker@example.com"}
	require.NoError(t, pool.DB.Create(&owner).Error)
	require.NoError(t, pool.DB.Create(&worker).Error)

	notifier := &recordingNotifier{}
	tracker := &recordingTracker{}
	return taskFixture{
		service:  services.NewTaskService(repositories.NewTaskRepository(pool.DB), notifier, tracker),
		notifier: notifier,
		tracker:  tracker,
		owner:    owner,
		worker:   worker,
	}
}

func (f taskFixture) as(user models.User) services.Actor {
	return services.Actor{ID: user.ID, Role: user.Role}
}

func TestTaskService_CreateAssignedNotifiesAssignee(t *testing.T) {
	f := newTaskFixture(t)
	due := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

	task, err := f.service.Create(context.Background(), f.owner.ID, services.CreateTaskInput{
		Title:      "  Spray cashew trees ",
		AssignedTo: &f.worker.ID,
		DueDate:    &due,
	})
	require.NoError(t, err)
	assert.Equal(t, "Spray cashew trees", task.Title)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, models.TaskPriorityMedium, task.Priority)
	assert.Nil(t, task.CompletedAt)

	require.Len(t, f.notifier.sent, 1)
	sent := f.notifier.sent[0]
	assert.Equal(t, f.worker.ID, sent.userID)
	assert.Equal(t, models.NotificationNewTaskAssigned, sent.kind)
	assert.Equal(t, task.ID.String(), sent.data["task_id"])
	assert.Equal(t, "2026-07-01T09:00:00Z", sent.data["due"])

	require.Len(t, f.tracker.events, 1)
	assert.Equal(t, analytics.EventTaskCreated, f.tracker.events[0].Name)
}

func TestTaskService_CreateSelfAssignedDoesNotNotify(t *testing.T) {
	f := newTaskFixture(t)

	_, err := f.service.Create(context.Background(), f.owner.ID, services.CreateTaskInput{Title: "Check pump", AssignedTo: &f.owner.ID})
	require.NoError(t, err)
	assert.Empty(t, f.notifier.sent)
}

func TestTaskService_CreateUrgentSendsUrgentAlert(t *testing.T) {
	f := newTaskFixture(t)

	_, err := f.service.Create(context.Background(), f.owner.ID, services.CreateTaskInput{
		Title:      "Locust swarm reported",
		AssignedTo: &f.worker.ID,
		Priority:   models.TaskPriorityUrgent,
	})
	require.NoError(t, err)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, models.NotificationUrgentAlert, f.notifier.sent[0].kind)
}

func TestTaskService_CreateValidation(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, f.owner.ID, services.CreateTaskInput{Title: "   "})
	assert.ErrorIs(t, err, services.ErrInvalidTask)

	_, err = f.service.Create(ctx, f.owner.ID, services.CreateTaskInput{Title: "x", Status: "done"})
	assert.ErrorIs(t, err, services.ErrInvalidTask)

	_, err = f.service.Create(ctx, f.owner.ID, services.CreateTaskInput{Title: "x", Priority: "critical"})
	assert.ErrorIs(t, err, services.ErrInvalidTask)
}

func TestTaskService_CreateCompletedSetsCompletedAt(t *testing.T) {
	f := newTaskFixture(t)

	task, err := f.service.Create(context.Background(), f.owner.ID, services.CreateTaskInput{Title: "Already harvested", Status: models.TaskStatusCompleted})
	require.NoError(t, err)
	assert.NotNil(t, task.CompletedAt)
}

func TestTaskService_UpdateMaintainsCompletedAt(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task, err := f.service.Create(ctx, f.owner.ID, services.CreateTaskInput{Title: "Harvest mangoes"})
	require.NoError(t, err)

	completed := models.TaskStatusCompleted
	task, err = f.service.Update(ctx, task.ID, f.as(f.owner), services.UpdateTaskInput{Status: &completed})
	require.NoError(t, err)
	require.NotNil(t, task.CompletedAt)

	reopened := models.TaskStatusInProgress
	task, err = f.service.Update(ctx, task.ID, f.as(f.owner), services.UpdateTaskInput{Status: &reopened})
	require.NoError(t, err)
	assert.Nil(t, task.CompletedAt)

	stored, err := f.service.Get(ctx, task.ID, f.as(f.owner))
	require.NoError(t, err)
	assert.Nil(t, stored.CompletedAt)
	assert.Equal(t, models.TaskStatusInProgress, stored.Status)
}

func TestTaskService_UpdateReassignmentNotifiesNewAssignee(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task, err := f.service.Create(ctx, f.owner.ID, services.CreateTaskInput{Title: "Repair fence"})
	require.NoError(t, err)
	assert.Empty(t, f.notifier.sent)

	_, err = f.service.Update(ctx, task.ID, f.as(f.owner), services.UpdateTaskInput{AssignedTo: &f.worker.ID})
	require.NoError(t, err)
	require.Len(t, f.notifier.sent, 1)

	title := "Repair north fence"
	_, err = f.service.Update(ctx, task.ID, f.as(f.owner), services.UpdateTaskInput{Title: &title, AssignedTo: &f.worker.ID})
	require.NoError(t, err)
	assert.Len(t, f.notifier.sent, 1, "same assignee is not notified again")

	task, err = f.service.Update(ctx, task.ID, f.as(f.owner), services.UpdateTaskInput{Unassign: true, ClearDueDate: true})
	require.NoError(t, err)
	assert.Nil(t, task.AssignedTo)
	assert.Nil(t, task.DueDate)
}

func TestTaskService_NotFound(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	missing := uuid.Must(uuid.NewV4())

	_, err := f.service.Get(ctx, missing, f.as(f.owner))
	assert.ErrorIs(t, err, services.ErrTaskNotFound)

	_, err = f.service.Update(ctx, missing, f.as(f.owner), services.UpdateTaskInput{})
	assert.ErrorIs(t, err, services.ErrTaskNotFound)

	assert.ErrorIs(t, f.service.Delete(ctx, missing, f.as(f.owner)), services.ErrTaskNotFound)
}

func TestTaskService_MonthUsesLocationBoundaries(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	loc := time.FixedZone("UTC+2", 2*3600)

	inside := time.Date(2026, 5, 1, 0, 30, 0, 0, loc) // 30 April 22:30 UTC
	outside := time.Date(2026, 4, 30, 23, 0, 0, 0, loc)
	for _, due := range []time.Time{inside, outside} {
		d := due
		_, err := f.service.Create(ctx, f.owner.ID, services.CreateTaskInput{Title: "t", DueDate: &d})
		require.NoError(t, err)
	}

	tasks, err := f.service.Month(ctx, repositories.TaskFilter{Involving: &f.owner.ID}, time.May, 2026, loc)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].DueDate.Equal(inside))
}

func TestTaskService_AccessIsLimitedToCreatorAndAssignee(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	stranger := services.Actor{ID: uuid.Must(uuid.NewV4()), Role: models.RoleMember}
	admin := services.Actor{ID: uuid.Must(uuid.NewV4()), Role: models.RoleAdmin}

	task, err := f.service.Create(ctx, f.owner.ID, services.CreateTaskInput{Title: "Prune cashew trees", AssignedTo: &f.worker.ID})
	require.NoError(t, err)

	_, err = f.service.Get(ctx, task.ID, stranger)
	assert.ErrorIs(t, err, services.ErrTaskNotFound)
	title := "Hijacked"
	_, err = f.service.Update(ctx, task.ID, stranger, services.UpdateTaskInput{Title: &title})
	assert.ErrorIs(t, err, services.ErrTaskNotFound)
	assert.ErrorIs(t, f.service.Delete(ctx, task.ID, stranger), services.ErrTaskNotFound)

	// the assignee works the task but cannot hand it off or remove it
	done := models.TaskStatusCompleted
	updated, err := f.service.Update(ctx, task.ID, f.as(f.worker), services.UpdateTaskInput{Status: &done})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, updated.Status)
	_, err = f.service.Update(ctx, task.ID, f.as(f.worker), services.UpdateTaskInput{Unassign: true})
	assert.ErrorIs(t, err, services.ErrTaskForbidden)
	assert.ErrorIs(t, f.service.Delete(ctx, task.ID, f.as(f.worker)), services.ErrTaskForbidden)

	stored, err := f.service.Get(ctx, task.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, "Prune cashew trees", stored.Title)
	require.NoError(t, f.service.Delete(ctx, task.ID, admin))
}

func TestActor_CanNotify(t *testing.T) {
	me := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())

	assert.True(t, services.Actor{ID: me}.CanNotify(me))
	assert.False(t, services.Actor{ID: me, Role: models.RoleMember}.CanNotify(other))
	assert.True(t, services.Actor{ID: me, Role: models.RoleAdmin}.CanNotify(other))
}
