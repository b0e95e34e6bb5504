package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

type JobQueue struct {
	client   *redis.Client
	queue    string
	maxTries int
	now      func() time.Time
}

func NewJobQueue(client *redis.Client, queue string, maxTries int) *JobQueue {
	if queue == "" {
		queue = "notifications"
	}
	if maxTries < 1 {
		maxTries = 3
	}
	return &JobQueue{client: client, queue: queue, maxTries: maxTries, now: time.Now}
}

func (q *JobQueue) Enqueue(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	return q.EnqueueAt(ctx, jobType, payload, q.now())
}

// EnqueueAt schedules a job; a processAt in the future parks it in the retry
// set until it is due.
func (q *JobQueue) EnqueueAt(ctx context.Context, jobType JobType, payload map[string]interface{}, processAt time.Time) (*Job, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:        id.String(),
		Type:      jobType,
		Payload:   payload,
		MaxTries:  q.maxTries,
		CreatedAt: q.now(),
		ProcessAt: processAt,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	if processAt.After(q.now()) {
		err = q.client.ZAdd(ctx, retryKey(q.queue), redis.Z{
			Score:  float64(processAt.UnixMilli()),
			Member: jobData,
		}).Err()
	} else {
		err = q.client.RPush(ctx, q.queue, jobData).Err()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

func (q *JobQueue) Size(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queue).Result()
}

func (q *JobQueue) RetrySize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, retryKey(q.queue)).Result()
}

func (q *JobQueue) DeadSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, deadKey(q.queue)).Result()
}

type QueueStats struct {
	Ready int64  `json:"ready"`
	Retry int64  `json:"retry"`
	Dead  int64  `json:"dead"`
	Error string `json:"error,omitempty"`
}

// Stats reports the depth of the ready, retry and dead queues.
func (q *JobQueue) Stats(ctx context.Context) interface{} {
	var stats QueueStats
	var err error
	if stats.Ready, err = q.Size(ctx); err == nil {
		if stats.Retry, err = q.RetrySize(ctx); err == nil {
			stats.Dead, err = q.DeadSize(ctx)
		}
	}
	if err != nil {
		stats.Error = err.Error()
	}
	return stats
}
