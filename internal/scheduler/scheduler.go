// Package scheduler fires automated pipeline runs at configured
// wall-clock times.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/models"
	"github.com/cstaal88/mina-pipeline/internal/pipeline"
)

// Runner executes one pipeline run. *pipeline.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*models.RunRecord, error)
}

// Scheduler checks the clock once a minute and, when it matches one of
// the configured HH:MM run times, runs the pipeline for every topic.
type Scheduler struct {
	topics        *config.Topics
	runner        Runner
	logger        *slog.Logger
	runTimes      []string
	stopChan      chan struct{}
	checkInterval time.Duration

	now func() time.Time
	// lastFired maps a run time to the day it last fired, so each slot
	// fires at most once per day.
	lastFired map[string]string
}

// New creates a scheduler over the given run times.
func New(topics *config.Topics, runner Runner, runTimes []string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		topics:        topics,
		runner:        runner,
		logger:        logger,
		runTimes:      runTimes,
		stopChan:      make(chan struct{}),
		checkInterval: time.Minute,
		now:           time.Now,
		lastFired:     make(map[string]string),
	}
}

// Start begins the scheduler loop. It blocks until Stop is called or the
// context ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler",
		"run_times", s.runTimes,
		"topics", s.topics.Names(),
		"check_interval", s.checkInterval)
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// Catch a slot that matches the startup minute.
	s.check(ctx)

	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-s.stopChan:
			s.logger.Info("scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return
		}
	}
}

// Stop ends the scheduler loop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) check(ctx context.Context) {
	now := s.now()
	current := now.Format("15:04")
	day := now.Format("2006-01-02")

	for _, at := range s.runTimes {
		if at != current || s.lastFired[at] == day {
			continue
		}
		s.lastFired[at] = day
		s.runAll(ctx)
	}
}

// runAll executes one automated run per topic, sequentially in name
// order. A failed topic does not stop the others.
func (s *Scheduler) runAll(ctx context.Context) {
	for _, name := range s.topics.Names() {
		if ctx.Err() != nil {
			return
		}
		topic, err := s.topics.Get(name)
		if err != nil {
			s.logger.Error("resolving topic failed", "topic", name, "error", err)
			continue
		}

		s.logger.Info("starting scheduled run", "topic", name)
		record, err := s.runner.Run(ctx, pipeline.Options{
			Topic: topic,
			Mode:  models.RunModeAutomated,
			Push:  true,
		})
		if err != nil {
			s.logger.Error("scheduled run failed", "topic", name, "error", err)
			continue
		}
		s.logger.Info("scheduled run finished",
			"topic", name,
			"fetched", record.Fetched,
			"added", record.Added,
			"duration", record.Duration().Round(time.Second))
	}
}
