// Package scheduler runs periodic catalogue maintenance: a WAL
// checkpoint plus a per-template artifact count report, on a cron
// schedule from the config.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"provisionr/internal/logging"
	"provisionr/internal/store"
)

// Scheduler manages the maintenance job
type Scheduler struct {
	cron      *cron.Cron
	catalogue *store.Catalogue
}

// New creates a scheduler running maintenance on the given cron spec.
// An error from AddFunc means the spec is invalid; validate.Run
// catches that earlier, so it is only logged here.
func New(catalogue *store.Catalogue, cronSpec string) *Scheduler {
	s := &Scheduler{
		cron:      cron.New(),
		catalogue: catalogue,
	}

	if _, err := s.cron.AddFunc(cronSpec, s.runMaintenance); err != nil {
		logging.Error("scheduler_add_job_failed", map[string]any{
			"cron":  cronSpec,
			"error": err.Error(),
		})
		return s
	}
	logging.Info("scheduler_job_added", map[string]any{"cron": cronSpec})

	return s
}

// Start begins executing the maintenance job
func (s *Scheduler) Start() {
	s.cron.Start()
	logging.Info("scheduler_started", map[string]any{
		"jobs": len(s.cron.Entries()),
	})
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logging.Info("scheduler_stopped", nil)
}

// RunNow triggers one maintenance pass outside the schedule.
func (s *Scheduler) RunNow() {
	s.runMaintenance()
}

func (s *Scheduler) runMaintenance() {
	startTime := time.Now()

	if err := s.catalogue.Checkpoint(); err != nil {
		logging.Error("maintenance_checkpoint_failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	counts, err := s.catalogue.Counts()
	if err != nil {
		logging.Error("maintenance_counts_failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	logging.Info("maintenance_completed", map[string]any{
		"templates":   len(counts),
		"artifacts":   total,
		"duration_ms": time.Since(startTime).Milliseconds(),
	})
}
