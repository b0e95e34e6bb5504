package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/notifications"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, userID uuid.UUID, notificationType models.NotificationType, data map[string]interface{}) notifications.DispatchResult
}

// Notifier hands task notifications to the job queue so request handlers
// never wait on push delivery. Without a queue, or when Redis refuses the
// job, it dispatches from a detached goroutine instead.
type Notifier struct {
	queue           *JobQueue
	dispatcher      Dispatcher
	log             logrus.FieldLogger
	enqueueTimeout  time.Duration
	fallbackTimeout time.Duration
	wg              sync.WaitGroup
}

func NewNotifier(queue *JobQueue, dispatcher Dispatcher, log logrus.FieldLogger) *Notifier {
	return &Notifier{
		queue:           queue,
		dispatcher:      dispatcher,
		log:             log,
		enqueueTimeout:  2 * time.Second,
		fallbackTimeout: 30 * time.Second,
	}
}

func (n *Notifier) Notify(ctx context.Context, userID uuid.UUID, notificationType models.NotificationType, data map[string]interface{}) {
	log := n.log.WithFields(logrus.Fields{"user_id": userID, "type": notificationType})

	if n.queue != nil {
		enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.enqueueTimeout)
		defer cancel()

		job, err := n.queue.Enqueue(enqueueCtx, JobTypeNotificationDispatch, map[string]interface{}{
			"user_id": userID.String(),
			"type":    string(notificationType),
			"data":    data,
		})
		if err == nil {
			log.WithField("job_id", job.ID).Debug("notification queued")
			return
		}
		log.WithError(err).Warn("job queue unavailable, dispatching in background")
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.fallbackTimeout)
		defer cancel()
		n.dispatcher.Dispatch(dispatchCtx, userID, notificationType, data)
	}()
}

// Wait blocks until background fallback dispatches have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Handle is the JobHandler for notification_dispatch jobs. Only failures a
// later attempt could fix are returned as errors.
func (n *Notifier) Handle(ctx context.Context, job *Job) error {
	rawID, _ := job.Payload["user_id"].(string)
	userID, err := uuid.FromString(rawID)
	if err != nil {
		return fmt.Errorf("invalid user_id in job %s: %w", job.ID, err)
	}

	rawType, _ := job.Payload["type"].(string)
	notificationType := models.NotificationType(rawType)
	if !notificationType.Valid() {
		return fmt.Errorf("invalid notification type %q in job %s", rawType, job.ID)
	}

	data, _ := job.Payload["data"].(map[string]interface{})

	result := n.dispatcher.Dispatch(ctx, userID, notificationType, data)
	if result.Success || !retryable(result.Error) {
		return nil
	}
	return fmt.Errorf("dispatch failed: %s", result.Error)
}

// retryable is true only when the dispatch failed before any push was
// attempted. Push delivery is at most once, so a dispatch whose pushes all
// failed is not retried.
func retryable(reason string) bool {
	switch reason {
	case notifications.ReasonPreferencesFailed,
		notifications.ReasonSubscriptionsError:
		return true
	}
	return false
}
