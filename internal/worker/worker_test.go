package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fructosahel/backend/internal/logger"
	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/notifications"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newTestWorker(client *redis.Client, now time.Time) *Worker {
	w := NewWorker(WorkerConfig{
		RedisClient:     client,
		Queue:           "notifications",
		PollTimeout:     time.Second,
		PromoteInterval: 10 * time.Millisecond,
		RetryDelay:      time.Minute,
		Log:             logger.Discard(),
	})
	w.now = func() time.Time { return now }
	return w
}

func TestJobQueue_Enqueue(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	q := NewJobQueue(client, "notifications", 0)

	job, err := q.Enqueue(ctx, JobTypeNotificationDispatch, map[string]interface{}{"user_id": "u"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 3, job.MaxTries)

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	items, err := mr.List("notifications")
	require.NoError(t, err)
	var stored Job
	require.NoError(t, json.Unmarshal([]byte(items[0]), &stored))
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, JobTypeNotificationDispatch, stored.Type)
}

func TestJobQueue_EnqueueAtFutureIsParked(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	q := NewJobQueue(client, "notifications", 3)

	_, err := q.EnqueueAt(ctx, JobTypeNotificationDispatch, nil, time.Now().Add(time.Hour))
	require.NoError(t, err)

	size, _ := q.Size(ctx)
	retries, _ := q.RetrySize(ctx)
	assert.EqualValues(t, 0, size)
	assert.EqualValues(t, 1, retries)
	assert.Equal(t, QueueStats{Retry: 1}, q.Stats(ctx))
}

func TestWorker_FailedJobIsRetriedWithBackoffThenDead(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	w := newTestWorker(client, now)
	w.now = func() time.Time { return now }
	var calls atomic.Int32
	w.RegisterHandler(JobTypeNotificationDispatch, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return errors.New("push service unavailable")
	})

	q := NewJobQueue(client, "notifications", 3)
	q.now = w.now
	_, err := q.Enqueue(ctx, JobTypeNotificationDispatch, nil)
	require.NoError(t, err)

	// first attempt: parked one minute out
	require.NoError(t, w.processNextJob(ctx))
	scores, err := client.ZRangeWithScores(ctx, retryKey("notifications"), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, float64(now.Add(time.Minute).UnixMilli()), scores[0].Score)

	promoted, err := w.promoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted, "not due yet")

	// second attempt: delay doubles
	now = now.Add(time.Minute)
	promoted, err = w.promoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	require.NoError(t, w.processNextJob(ctx))
	scores, err = client.ZRangeWithScores(ctx, retryKey("notifications"), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, float64(now.Add(2*time.Minute).UnixMilli()), scores[0].Score)

	// third attempt exhausts max tries
	now = now.Add(2 * time.Minute)
	_, err = w.promoteDue(ctx)
	require.NoError(t, err)
	require.NoError(t, w.processNextJob(ctx))

	assert.EqualValues(t, 3, calls.Load())
	dead, _ := q.DeadSize(ctx)
	retries, _ := q.RetrySize(ctx)
	assert.EqualValues(t, 1, dead)
	assert.EqualValues(t, 0, retries)

	raw, err := client.LIndex(ctx, deadKey("notifications"), 0).Result()
	require.NoError(t, err)
	var deadJob struct {
		OriginalJob Job    `json:"original_job"`
		Error       string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &deadJob))
	assert.Equal(t, 3, deadJob.OriginalJob.Attempts)
	assert.Equal(t, "push service unavailable", deadJob.Error)
}

func TestWorker_UnknownJobTypeGoesToDeadQueue(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	w := newTestWorker(client, time.Now())

	q := NewJobQueue(client, "notifications", 3)
	_, err := q.Enqueue(ctx, JobType("data_export"), nil)
	require.NoError(t, err)

	require.NoError(t, w.processNextJob(ctx))
	dead, _ := q.DeadSize(ctx)
	assert.EqualValues(t, 1, dead)
}

func TestWorker_EmptyQueueIsNotAnError(t *testing.T) {
	_, client := setupRedis(t)
	w := newTestWorker(client, time.Now())
	assert.NoError(t, w.processNextJob(context.Background()))
}

func TestWorker_StartStop(t *testing.T) {
	mr := miniredis.RunT(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	w := NewWorker(WorkerConfig{
		RedisClient:     client,
		PollTimeout:     time.Second,
		PromoteInterval: 10 * time.Millisecond,
		Log:             logger.Discard(),
	})

	done := make(chan string, 1)
	w.RegisterHandler(JobTypeNotificationDispatch, func(ctx context.Context, job *Job) error {
		done <- job.ID
		return nil
	})
	w.Start(2)

	job, err := NewJobQueue(client, "notifications", 3).Enqueue(context.Background(), JobTypeNotificationDispatch, nil)
	require.NoError(t, err)

	select {
	case id := <-done:
		assert.Equal(t, job.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}

	w.Stop()
	w.Stop()
}

type recordingDispatcher struct {
	mu     sync.Mutex
	calls  []dispatchCall
	result notifications.DispatchResult
}

type dispatchCall struct {
	userID uuid.UUID
	kind   models.NotificationType
	data   map[string]interface{}
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, userID uuid.UUID, kind models.NotificationType, data map[string]interface{}) notifications.DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{userID, kind, data})
	r := d.result
	r.UserID = userID
	return r
}

func TestNotifier_QueuesAndHandles(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	dispatcher := &recordingDispatcher{result: notifications.DispatchResult{Success: true, Sent: 1}}
	q := NewJobQueue(client, "notifications", 3)
	n := NewNotifier(q, dispatcher, logger.Discard())

	userID := uuid.Must(uuid.NewV4())
	n.Notify(ctx, userID, models.NotificationNewTaskAssigned, map[string]interface{}{"title": "Planter", "count": 2})
	n.Wait()

	assert.Empty(t, dispatcher.calls, "nothing is sent inline")
	size, _ := q.Size(ctx)
	require.EqualValues(t, 1, size)

	w := newTestWorker(client, time.Now())
	w.RegisterHandler(JobTypeNotificationDispatch, n.Handle)
	require.NoError(t, w.processNextJob(ctx))

	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, userID, dispatcher.calls[0].userID)
	assert.Equal(t, models.NotificationNewTaskAssigned, dispatcher.calls[0].kind)
	assert.Equal(t, "Planter", dispatcher.calls[0].data["title"])
	assert.Equal(t, float64(2), dispatcher.calls[0].data["count"])
}

func TestNotifier_FallsBackWhenRedisIsDown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	dispatcher := &recordingDispatcher{result: notifications.DispatchResult{Success: true}}
	n := NewNotifier(NewJobQueue(client, "notifications", 3), dispatcher, logger.Discard())

	n.Notify(context.Background(), uuid.Must(uuid.NewV4()), models.NotificationUrgentAlert, nil)
	n.Wait()

	assert.Len(t, dispatcher.calls, 1)
}

func TestNotifier_WithoutQueueDispatchesInBackground(t *testing.T) {
	dispatcher := &recordingDispatcher{result: notifications.DispatchResult{Success: true}}
	n := NewNotifier(nil, dispatcher, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	n.Notify(ctx, uuid.Must(uuid.NewV4()), models.NotificationTest, nil)
	cancel()
	n.Wait()

	assert.Len(t, dispatcher.calls, 1)
}

func TestNotifier_HandleRetriesOnlyLookupFailures(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	job := &Job{ID: "j", Payload: map[string]interface{}{
		"user_id": userID.String(),
		"type":    string(models.NotificationTaskOverdue),
	}}

	tests := []struct {
		reason  string
		wantErr bool
	}{
		{notifications.ReasonPreferencesFailed, true},
		{notifications.ReasonSubscriptionsError, true},
		{notifications.ReasonAllFailed, false},
		{notifications.ReasonDisabled, false},
		{notifications.ReasonNoSubscriptions, false},
		{notifications.ReasonNotConfigured, false},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			n := NewNotifier(nil, &recordingDispatcher{result: notifications.DispatchResult{Error: tt.reason}}, logger.Discard())
			err := n.Handle(context.Background(), job)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	n := NewNotifier(nil, &recordingDispatcher{}, logger.Discard())
	assert.Error(t, n.Handle(context.Background(), &Job{Payload: map[string]interface{}{"user_id": "nope"}}))
	assert.Error(t, n.Handle(context.Background(), &Job{Payload: map[string]interface{}{"user_id": userID.String(), "type": "fax"}}))
}
