// Package worker runs background jobs from a Redis list. Jobs that fail are
// retried with exponential delay from a sorted set and end up in a dead list
// once they run out of attempts.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type JobType string

const JobTypeNotificationDispatch JobType = "notification_dispatch"

type Job struct {
	ID        string                 `json:"id"`
	Type      JobType                `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Attempts  int                    `json:"attempts"`
	MaxTries  int                    `json:"max_tries"`
	LastError string                 `json:"last_error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	ProcessAt time.Time              `json:"process_at"`
}

type JobHandler func(ctx context.Context, job *Job) error

// Queue key layout: the ready list is the queue name itself.
func retryKey(queue string) string { return queue + ":retry" }
func deadKey(queue string) string  { return queue + ":dead" }

type WorkerConfig struct {
	RedisClient *redis.Client
	Queue       string
	// PollTimeout bounds each BLPOP and so how long Stop waits.
	PollTimeout time.Duration
	// PromoteInterval is how often due retries move back to the queue.
	PromoteInterval time.Duration
	RetryDelay      time.Duration
	JobTimeout      time.Duration
	Log             logrus.FieldLogger
}

type Worker struct {
	client   *redis.Client
	handlers map[JobType]JobHandler
	queue    string
	config   WorkerConfig
	log      logrus.FieldLogger
	now      func() time.Time
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewWorker(config WorkerConfig) *Worker {
	if config.Queue == "" {
		config.Queue = "notifications"
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = time.Second
	}
	if config.PromoteInterval <= 0 {
		config.PromoteInterval = time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Minute
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.Log == nil {
		config.Log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		client:   config.RedisClient,
		handlers: make(map[JobType]JobHandler),
		queue:    config.Queue,
		config:   config,
		log:      config.Log.WithField("queue", config.Queue),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

func (w *Worker) Start(concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.WithField("concurrency", concurrency).Info("starting worker")

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop()
	}

	w.wg.Add(1)
	go w.promoteLoop()
}

// Stop waits for in-flight jobs; a job being handled finishes or hits its
// timeout first.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.log.Info("stopping worker")
		w.cancel()
		w.wg.Wait()
		w.log.Info("worker stopped")
	})
}

func (w *Worker) workerLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if err := w.processNextJob(w.ctx); err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.log.WithError(err).Error("error processing job")
			select {
			case <-time.After(time.Second):
			case <-w.ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) promoteLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.promoteDue(w.ctx); err != nil && w.ctx.Err() == nil {
				w.log.WithError(err).Warn("failed to promote retry jobs")
			}
		}
	}
}

func (w *Worker) processNextJob(ctx context.Context) error {
	result, err := w.client.BLPop(ctx, w.config.PollTimeout, w.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to pop job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return w.executeJob(ctx, &job)
}

func (w *Worker) executeJob(ctx context.Context, job *Job) error {
	w.mu.RLock()
	handler, exists := w.handlers[job.Type]
	w.mu.RUnlock()

	log := w.log.WithFields(logrus.Fields{"job_id": job.ID, "job_type": job.Type})

	if !exists {
		return w.moveToDeadQueue(ctx, job, fmt.Errorf("no handler registered for job type: %s", job.Type))
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.JobTimeout)
	defer cancel()

	err := handler(jobCtx, job)
	if err == nil {
		log.Debug("job completed")
		return nil
	}

	job.Attempts++
	job.LastError = err.Error()
	if job.Attempts < job.MaxTries {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt":   job.Attempts,
			"max_tries": job.MaxTries,
		}).Warn("job failed, retrying")
		return w.retryJob(ctx, job)
	}

	log.WithError(err).WithField("attempts", job.Attempts).Error("job failed permanently")
	return w.moveToDeadQueue(ctx, job, err)
}

// retryDelay doubles per attempt: RetryDelay, 2*RetryDelay, 4*RetryDelay...
func (w *Worker) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return w.config.RetryDelay << (attempts - 1)
}

func (w *Worker) retryJob(ctx context.Context, job *Job) error {
	job.ProcessAt = w.now().Add(w.retryDelay(job.Attempts))

	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return w.client.ZAdd(context.WithoutCancel(ctx), retryKey(w.queue), redis.Z{
		Score:  float64(job.ProcessAt.UnixMilli()),
		Member: jobData,
	}).Err()
}

// promoteDue moves retries whose time has come back onto the ready list.
// ZREM decides which caller owns a member when several workers race.
func (w *Worker) promoteDue(ctx context.Context) (int, error) {
	due, err := w.client.ZRangeByScore(ctx, retryKey(w.queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(w.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, member := range due {
		removed, err := w.client.ZRem(ctx, retryKey(w.queue), member).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := w.client.RPush(ctx, w.queue, member).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (w *Worker) moveToDeadQueue(ctx context.Context, job *Job, jobErr error) error {
	deadJob := map[string]interface{}{
		"original_job": job,
		"error":        jobErr.Error(),
		"failed_at":    w.now(),
	}

	deadJobData, err := json.Marshal(deadJob)
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}

	return w.client.RPush(context.WithoutCancel(ctx), deadKey(w.queue), deadJobData).Err()
}
