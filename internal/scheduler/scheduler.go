// Package scheduler runs the notification jobs in-process for deployments
// without an external cron calling the cron endpoint.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"fructosahel/backend/internal/notifications"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type JobRunner interface {
	Run(ctx context.Context, name string) (map[string]notifications.JobResult, error)
}

type Config struct {
	RemindersSpec string
	OverdueSpec   string
	DigestHour    int
	Location      *time.Location
	// JobTimeout bounds a single run.
	JobTimeout time.Duration
}

type Entry struct {
	Job  string    `json:"job"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
}

type Scheduler struct {
	cron    *cron.Cron
	runner  JobRunner
	log     logrus.FieldLogger
	timeout time.Duration
	specs   map[cron.EntryID]Entry
}

// DigestSpec is the cron expression for the daily digest at hour:00.
func DigestSpec(hour int) string {
	return fmt.Sprintf("0 %d * * *", hour)
}

func New(runner JobRunner, config Config, log logrus.FieldLogger) (*Scheduler, error) {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 10 * time.Minute
	}
	if config.RemindersSpec == "" {
		config.RemindersSpec = "@hourly"
	}
	if config.OverdueSpec == "" {
		config.OverdueSpec = "0 */6 * * *"
	}

	logger := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner:  runner,
		log:     log,
		timeout: config.JobTimeout,
		specs:   make(map[cron.EntryID]Entry),
	}

	jobs := []struct{ name, spec string }{
		{notifications.JobDueReminders, config.RemindersSpec},
		{notifications.JobOverdue, config.OverdueSpec},
		{notifications.JobDailyDigest, DigestSpec(config.DigestHour)},
	}
	for _, job := range jobs {
		if err := s.add(job.name, job.spec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string) error {
	id, err := s.cron.AddFunc(spec, func() { s.run(name) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.specs[id] = Entry{Job: name, Spec: spec}
	return nil
}

func (s *Scheduler) run(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	results, err := s.runner.Run(ctx, name)
	if err != nil {
		s.log.WithError(err).WithField("job", name).Error("scheduled job failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"job":      name,
		"duration": time.Since(start).String(),
		"results":  results,
	}).Info("scheduled job finished")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running ones until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries lists the scheduled jobs with their next run time, zero before
// Start.
func (s *Scheduler) Entries() []Entry {
	var entries []Entry
	for _, e := range s.cron.Entries() {
		entry := s.specs[e.ID]
		entry.Next = e.Next
		entries = append(entries, entry)
	}
	return entries
}

type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
