// Package notifications turns task events into Web Push notifications: it
// renders payloads, fans them out to every device a user registered, and runs
// the scheduled reminder jobs.
package notifications

import (
	"context"
	"encoding/json"
	"sync"

	"fructosahel/backend/internal/analytics"
	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/monitoring"
	"fructosahel/backend/internal/services"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Failure reasons reported in DispatchResult.Error.
const (
	ReasonNotConfigured      = "VAPID keys not configured"
	ReasonDisabled           = "disabled by preference"
	ReasonNoSubscriptions    = "no subscriptions"
	ReasonPreferencesFailed  = "preference lookup failed"
	ReasonSubscriptionsError = "subscription lookup failed"
	ReasonEncodeFailed       = "payload encoding failed"
	ReasonAllFailed          = "all deliveries failed"
)

// PreferenceResolver yields a user's effective preferences, falling back to
// the defaults when no row is stored.
type PreferenceResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (services.EffectivePreferences, error)
}

type SubscriptionStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error)
}

type LocaleResolver interface {
	Locale(ctx context.Context, userID uuid.UUID) (string, error)
}

type DispatchRecorder interface {
	RecordDispatch(notificationType, outcome string, n int)
}

type DispatchResult struct {
	UserID  uuid.UUID `json:"user_id"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Sent    int       `json:"sent"`
	Failed  int       `json:"failed"`
	Removed int       `json:"removed"`
}

type BulkResult struct {
	Sent    int              `json:"sent"`
	Failed  int              `json:"failed"`
	Details []DispatchResult `json:"details"`
}

type DispatcherConfig struct {
	// EndpointConcurrency bounds concurrent sends within one dispatch.
	EndpointConcurrency int
	// UserConcurrency bounds concurrent dispatches in a bulk call.
	UserConcurrency int
}

type Dispatcher struct {
	prefs   PreferenceResolver
	subs    SubscriptionStore
	locales LocaleResolver
	sender  PushSender
	catalog *Catalog
	metrics DispatchRecorder
	events  services.EventTracker
	log     logrus.FieldLogger
	config  DispatcherConfig
}

type DispatcherDeps struct {
	Preferences   PreferenceResolver
	Subscriptions SubscriptionStore
	Locales       LocaleResolver
	Sender        PushSender
	Catalog       *Catalog
	Metrics       DispatchRecorder
	Events        services.EventTracker
	Log           logrus.FieldLogger
}

func NewDispatcher(deps DispatcherDeps, config DispatcherConfig) *Dispatcher {
	if config.EndpointConcurrency < 1 {
		config.EndpointConcurrency = 8
	}
	if config.UserConcurrency < 1 {
		config.UserConcurrency = 16
	}
	if deps.Catalog == nil {
		deps.Catalog = NewCatalog(nil)
	}
	return &Dispatcher{
		prefs:   deps.Preferences,
		subs:    deps.Subscriptions,
		locales: deps.Locales,
		sender:  deps.Sender,
		catalog: deps.Catalog,
		metrics: deps.Metrics,
		events:  deps.Events,
		log:     deps.Log,
		config:  config,
	}
}

// Dispatch sends one notification to every device of the user. It never
// returns an error; failures are reported in the result.
func (d *Dispatcher) Dispatch(ctx context.Context, userID uuid.UUID, notificationType models.NotificationType, data map[string]interface{}) DispatchResult {
	result := DispatchResult{UserID: userID}
	log := d.log.WithFields(logrus.Fields{"user_id": userID, "type": notificationType})

	if !d.sender.Configured() {
		result.Error = ReasonNotConfigured
		d.record(notificationType, monitoring.OutcomeFailed, 1)
		return result
	}

	prefs, err := d.prefs.Resolve(ctx, userID)
	if err != nil {
		log.WithError(err).Error("failed to resolve notification preferences")
		result.Error = ReasonPreferencesFailed
		d.record(notificationType, monitoring.OutcomeFailed, 1)
		return result
	}
	if !prefs.Allows(notificationType) {
		log.Debug("notification suppressed by preferences")
		result.Error = ReasonDisabled
		d.record(notificationType, monitoring.OutcomeSuppressed, 1)
		return result
	}

	subs, err := d.subs.ListByUser(ctx, userID)
	if err != nil {
		log.WithError(err).Error("failed to load push subscriptions")
		result.Error = ReasonSubscriptionsError
		d.record(notificationType, monitoring.OutcomeFailed, 1)
		return result
	}
	if len(subs) == 0 {
		result.Error = ReasonNoSubscriptions
		d.record(notificationType, monitoring.OutcomeNoDevices, 1)
		return result
	}

	locale := models.DefaultLocale
	if d.locales != nil {
		if l, err := d.locales.Locale(ctx, userID); err != nil {
			log.WithError(err).Warn("failed to load user locale")
		} else {
			locale = l
		}
	}

	payload := d.catalog.Build(notificationType, locale, data)
	body, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("failed to encode notification payload")
		result.Error = ReasonEncodeFailed
		d.record(notificationType, monitoring.OutcomeFailed, 1)
		return result
	}
	msg := PushMessage{
		Body:   body,
		Urgent: notificationType == models.NotificationUrgentAlert || notificationType == models.NotificationTaskOverdue,
	}

	d.fanOut(ctx, log, subs, msg, &result)

	result.Success = result.Sent > 0
	if !result.Success {
		result.Error = ReasonAllFailed
	}

	d.record(notificationType, monitoring.OutcomeSent, result.Sent)
	d.record(notificationType, monitoring.OutcomeFailed, result.Failed)
	d.record(notificationType, monitoring.OutcomeRemoved, result.Removed)
	d.track(ctx, userID, notificationType, result)

	log.WithFields(logrus.Fields{
		"sent":    result.Sent,
		"failed":  result.Failed,
		"removed": result.Removed,
	}).Info("notification dispatched")

	return result
}

func (d *Dispatcher) fanOut(ctx context.Context, log logrus.FieldLogger, subs []models.PushSubscription, msg PushMessage, result *DispatchResult) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(d.config.EndpointConcurrency))
	)

	for i, sub := range subs {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Failed += len(subs) - i
			mu.Unlock()
			log.WithError(err).Warn("dispatch cancelled before all endpoints were tried")
			break
		}

		wg.Add(1)
		go func(sub models.PushSubscription) {
			defer wg.Done()
			defer sem.Release(1)

			sent, removed := d.deliver(ctx, log, sub, msg)

			mu.Lock()
			defer mu.Unlock()
			if sent {
				result.Sent++
			} else {
				result.Failed++
			}
			if removed {
				result.Removed++
			}
		}(sub)
	}

	wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, log logrus.FieldLogger, sub models.PushSubscription, msg PushMessage) (sent, removed bool) {
	log = log.WithField("subscription_id", sub.ID)

	status, err := d.sender.Send(ctx, sub, msg)
	if Gone(status) {
		deleted, derr := d.subs.DeleteByEndpoint(ctx, sub.Endpoint)
		if derr != nil {
			log.WithError(derr).Error("failed to remove expired push subscription")
			return false, false
		}
		log.WithField("status", status).Info("removed expired push subscription")
		return false, deleted
	}
	if err != nil {
		entry := log.WithError(err).WithField("status", status)
		if IsBreakerOpen(err) {
			entry.Debug("push delivery skipped, circuit open")
		} else {
			entry.Warn("push delivery failed")
		}
		return false, false
	}
	return true, false
}

// DispatchBulk dispatches to each user independently. Duplicate ids are sent
// once, so Details holds one entry per unique id in order of first appearance
// and may be shorter than userIDs.
func (d *Dispatcher) DispatchBulk(ctx context.Context, userIDs []uuid.UUID, notificationType models.NotificationType, data map[string]interface{}) BulkResult {
	unique := make([]uuid.UUID, 0, len(userIDs))
	seen := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	details := make([]DispatchResult, len(unique))
	var g errgroup.Group
	g.SetLimit(d.config.UserConcurrency)
	for i, id := range unique {
		i, id := i, id
		g.Go(func() error {
			details[i] = d.Dispatch(ctx, id, notificationType, data)
			return nil
		})
	}
	_ = g.Wait()

	bulk := BulkResult{Details: details}
	for _, r := range details {
		if r.Success {
			bulk.Sent++
		} else {
			bulk.Failed++
		}
	}
	return bulk
}

func (d *Dispatcher) record(notificationType models.NotificationType, outcome string, n int) {
	if d.metrics != nil {
		d.metrics.RecordDispatch(string(notificationType), outcome, n)
	}
}

func (d *Dispatcher) track(ctx context.Context, userID uuid.UUID, notificationType models.NotificationType, result DispatchResult) {
	if d.events == nil {
		return
	}
	_ = d.events.Track(ctx, analytics.Event{
		Name:   analytics.EventNotificationDispatched,
		UserID: userID.String(),
		Properties: map[string]interface{}{
			"type":    string(notificationType),
			"sent":    result.Sent,
			"failed":  result.Failed,
			"removed": result.Removed,
		},
	})
}
