package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fructosahel/backend/internal/logger"
	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/monitoring"
	"fructosahel/backend/internal/services"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	prefs      *fakePreferences
	subs       *fakeSubscriptions
	sender     *fakeSender
	locales    fakeLocales
	metrics    *monitoring.Metrics
}

func newDispatcherFixture(config DispatcherConfig) *dispatcherFixture {
	f := &dispatcherFixture{
		prefs:   &fakePreferences{},
		subs:    &fakeSubscriptions{},
		sender:  newFakeSender(),
		locales: fakeLocales{},
		metrics: monitoring.NewMetrics(),
	}
	f.dispatcher = NewDispatcher(DispatcherDeps{
		Preferences:   f.prefs,
		Subscriptions: f.subs,
		Locales:       f.locales,
		Sender:        f.sender,
		Metrics:       f.metrics,
		Log:           logger.Discard(),
	}, config)
	return f
}

func newID() uuid.UUID { return uuid.Must(uuid.NewV4()) }

func TestDispatch_SendsToEveryDevice(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newDispatcherFixture(DispatcherConfig{})
	user := newID()
	f.subs.add(user, "https://push.example/phone", "https://push.example/laptop")

	result := f.dispatcher.Dispatch(context.Background(), user, models.NotificationTaskDueSoon, map[string]interface{}{"title": "Arroser les plants"})

	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 0, result.Failed)
	assert.EqualValues(t, 2, f.sender.calls.Load())

	var payload models.NotificationPayload
	require.NoError(t, json.Unmarshal(f.sender.payloads[0], &payload))
	assert.Equal(t, models.NotificationTaskDueSoon, payload.Type)
	assert.Equal(t, "Tâche à venir", payload.Title)
	assert.Contains(t, payload.Body, "Arroser les plants")

	assert.EqualValues(t, 2, f.metrics.Snapshot().Dispatches["task_due_soon"][monitoring.OutcomeSent])
}

func TestDispatch_UsesRecipientLocale(t *testing.T) {
	f := newDispatcherFixture(DispatcherConfig{})
	user := newID()
	f.locales[user] = "en-US"
	f.subs.add(user, "https://push.example/a")

	result := f.dispatcher.Dispatch(context.Background(), user, models.NotificationDailyDigest, map[string]interface{}{"count": int64(3)})
	require.True(t, result.Success)

	var payload models.NotificationPayload
	require.NoError(t, json.Unmarshal(f.sender.payloads[0], &payload))
	assert.Equal(t, "Today's tasks", payload.Title)
	assert.Equal(t, "You have 3 task(s) due today.", payload.Body)
}

func TestDispatch_DisabledUserMakesNoNetworkCalls(t *testing.T) {
	f := newDispatcherFixture(DispatcherConfig{})
	user := newID()
	f.subs.add(user, "https://push.example/a")

	prefs := services.DefaultPreferences(user)
	prefs.Enabled = false
	f.prefs.set(prefs)

	for _, kind := range []models.NotificationType{
		models.NotificationTaskDueSoon, models.NotificationTaskOverdue, models.NotificationNewTaskAssigned,
		models.NotificationUrgentAlert, models.NotificationDailyDigest, models.NotificationTest,
	} {
		result := f.dispatcher.Dispatch(context.Background(), user, kind, nil)
		assert.False(t, result.Success, string(kind))
		assert.Equal(t, ReasonDisabled, result.Error)
	}
	assert.Zero(t, f.sender.calls.Load())
	assert.Zero(t, f.subs.listed, "subscriptions are not even read")
}

func TestDispatch_CategoryFlagSuppresses(t *testing.T) {
	f := newDispatcherFixture(DispatcherConfig{})
	user := newID()
	f.subs.add(user, "https://push.example/a")

	prefs := services.DefaultPreferences(user)
	prefs.TaskOverdue = false
	f.prefs.set(prefs)

	result := f.dispatcher.Dispatch(context.Background(), user, models.NotificationTaskOverdue, nil)
	assert.Equal(t, ReasonDisabled, result.Error)

	result = f.dispatcher.Dispatch(context.Background(), user, models.NotificationTaskDueSoon, nil)
	assert.True(t, result.Success)
	assert.EqualValues(t, 1, f.sender.calls.Load())
}

func TestDispatch_NotConfigured(t *testing.T) {
	f := newDispatcherFixture(DispatcherConfig{})
	f.sender.configured = false
	user := newID()
	f.subs.add(user, "https://push.example/a")

	result := f.dispatcher.Dispatch(context.Background(), user, models.NotificationTest, nil)
	assert.False(t, result.Success)
	assert.Equal(t, "VAPID keys not configured", result.Error)
	assert.Zero(t, f.sender.calls.Load())
}

func TestDispatch_NoSubscriptions(t *testing.T) {
	f := newDispatcherFixture(DispatcherConfig{})

	result := f.dispatcher.Dispatch(context.Background(), newID(), models.NotificationTest, nil)
	assert.False(t, result.Success)
	assert.Equal(t, ReasonNoSubscriptions, result.Error)
}

func TestDispatch_PreferenceErrorIsReported(t *testing.T) {
	f := newDispatcherFixture(DispatcherConfig{})
	f.prefs.err = errors.New("database is locked")

	result := f.dispatcher.Dispatch(context.Background(), newID(), models.NotificationTest, nil)
	assert.False(t, result.Success)
	assert.Equal(t, ReasonPreferencesFailed, result.Error)
}

func TestDispatch_GoneEndpointIsRemoved(t *testing.T) {
	f := newDispatcherFixture(DispatcherConfig{})
	user := newID()
	f.subs.add(user, "https://push.example/expired", "https://push.example/missing", "https://push.example/ok")
	f.sender.status["https://push.example/expired"] = 410
	f.sender.status["https://push.example/missing"] = 404

	result := f.dispatcher.Dispatch(context.Background(), user, models.NotificationTest, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 2, result.Removed)
	assert.Equal(t, []string{"https://push.example/ok"}, f.subs.endpoints(user))
}

func TestDispatch_TransientFailureKeepsSubscription(t *testing.T) {
	f := newDispatcherFixture(DispatcherConfig{})
	user := newID()
	f.subs.add(user, "https://push.example/flaky", "https://push.example/down")
	f.sender.status["https://push.example/flaky"] = 503
	f.sender.status["https://push.example/down"] = 0

	result := f.dispatcher.Dispatch(context.Background(), user, models.NotificationTest, nil)

	assert.False(t, result.Success)
	assert.Equal(t, ReasonAllFailed, result.Error)
	assert.Equal(t, 2, result.Failed)
	assert.Zero(t, result.Removed)
	assert.Len(t, f.subs.endpoints(user), 2)
	assert.Zero(t, f.subs.deletes)
}

func TestDispatch_BoundsConcurrentSends(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newDispatcherFixture(DispatcherConfig{EndpointConcurrency: 3})
	f.sender.delay = 10 * time.Millisecond
	user := newID()
	for i := 0; i < 12; i++ {
		f.subs.add(user, "https://push.example/"+uuid.Must(uuid.NewV4()).String())
	}

	result := f.dispatcher.Dispatch(context.Background(), user, models.NotificationTest, nil)

	assert.Equal(t, 12, result.Sent)
	assert.LessOrEqual(t, f.sender.maxSeen.Load(), int32(3))
	assert.GreaterOrEqual(t, f.sender.maxSeen.Load(), int32(2), "sends do run in parallel")
}

func TestDispatch_CancelledContextCountsRemainingAsFailed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newDispatcherFixture(DispatcherConfig{EndpointConcurrency: 1})
	f.sender.delay = time.Second
	user := newID()
	f.subs.add(user, "https://push.example/1", "https://push.example/2", "https://push.example/3")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := f.dispatcher.Dispatch(ctx, user, models.NotificationTest, nil)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Failed)
}

func TestDispatchBulk_IsolatesUsers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newDispatcherFixture(DispatcherConfig{UserConcurrency: 2})
	withDevice, withoutDevice, disabled := newID(), newID(), newID()
	f.subs.add(withDevice, "https://push.example/a")
	f.subs.add(disabled, "https://push.example/b")
	prefs := services.DefaultPreferences(disabled)
	prefs.Enabled = false
	f.prefs.set(prefs)

	bulk := f.dispatcher.DispatchBulk(context.Background(),
		[]uuid.UUID{withDevice, withoutDevice, disabled, withDevice},
		models.NotificationUrgentAlert, map[string]interface{}{"title": "Feu de brousse"})

	assert.Equal(t, 1, bulk.Sent)
	assert.Equal(t, 2, bulk.Failed)
	require.Len(t, bulk.Details, 3, "duplicate ids are dispatched once")
	assert.Equal(t, withDevice, bulk.Details[0].UserID)
	assert.True(t, bulk.Details[0].Success)
	assert.Equal(t, ReasonNoSubscriptions, bulk.Details[1].Error)
	assert.Equal(t, ReasonDisabled, bulk.Details[2].Error)
}
