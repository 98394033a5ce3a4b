// Package scheduler runs the periodic pipeline jobs (discovery, recovery, enrichment, requeue) on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
)

// JobStatus reports the state of one registered job
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	IsRunning bool       `json:"is_running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name      string
	schedule  string
	handler   func(ctx context.Context) error
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	lastError string
}

// Service owns the cron runner. A job never overlaps with itself; a tick that
// arrives while the previous run is still going is skipped.
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	jobMu   sync.Mutex
	jobs    map[string]*jobEntry
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewService creates a new scheduler service using six-field (seconds) cron expressions
func NewService(logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob adds a job. An empty schedule disables it.
func (s *Service) RegisterJob(name, schedule string, handler func(ctx context.Context) error) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		s.logger.Info().Str("job_name", name).Msg("Job disabled (no schedule)")
		return nil
	}
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{name: name, schedule: schedule, handler: handler}
	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}
	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")
	return nil
}

// Start begins firing registered jobs
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop cancels in-flight jobs and waits for them to return
func (s *Service) Stop() {
	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}

// TriggerJob runs a job immediately, outside its schedule
func (s *Service) TriggerJob(name string) error {
	s.jobMu.Lock()
	_, exists := s.jobs[name]
	s.jobMu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	go s.executeJob(name)
	return nil
}

// Statuses returns every job, sorted by name
func (s *Service) Statuses() []*JobStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	statuses := make([]*JobStatus, 0, len(s.jobs))
	for _, entry := range s.jobs {
		status := &JobStatus{
			Name:      entry.name,
			Schedule:  entry.schedule,
			IsRunning: entry.isRunning,
			LastRun:   entry.lastRun,
			LastError: entry.lastError,
		}
		if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
			status.NextRun = &next
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (s *Service) executeJob(name string) {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job not found")
		return
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job still running - skipping tick")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	started := time.Now()
	s.logger.Info().Str("job_name", name).Msg("Job execution started")

	err := common.CapturePanic(s.logger, name, func() error {
		return handler(s.ctx)
	})

	completed := time.Now()
	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &completed
	entry.lastError = ""
	if err != nil {
		entry.lastError = err.Error()
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Str("duration", completed.Sub(started).String()).
			Msg("Job execution failed")
		return
	}
	s.logger.Info().
		Str("job_name", name).
		Str("duration", completed.Sub(started).String()).
		Msg("Job execution completed")
}
