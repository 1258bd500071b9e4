package backup

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pma2020/pma-api/internal/tasks"
	"github.com/robfig/cron/v3"
)

// Submitter queues a job as a tracked task
type Submitter interface {
	Submit(ctx context.Context, kind string, job tasks.Job) (string, error)
}

// ScheduleRunner executes scheduled backups and applies retention after each
// successful run
type ScheduleRunner struct {
	schedule     string
	keep         int
	backupMgr    *Manager
	retentionMgr *RetentionManager
	queue        Submitter

	mu   sync.Mutex
	cron *cron.Cron
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduleRunner creates a runner for the given cron expression. When
// queue is set, runs are submitted as tasks; otherwise they run inline on the
// cron goroutine.
func NewScheduleRunner(schedule string, keep int, backupMgr *Manager, retentionMgr *RetentionManager, queue Submitter) *ScheduleRunner {
	return &ScheduleRunner{
		schedule:     strings.TrimSpace(schedule),
		keep:         keep,
		backupMgr:    backupMgr,
		retentionMgr: retentionMgr,
		queue:        queue,
	}
}

// Start registers the schedule and starts the cron loop. An empty schedule
// disables scheduled backups.
func (sr *ScheduleRunner) Start(ctx context.Context) error {
	if sr.schedule == "" {
		log.Printf("[BackupSchedule] No backup schedule configured")
		return nil
	}

	c := cron.New(cron.WithParser(scheduleParser))
	if _, err := c.AddFunc(sr.schedule, func() { sr.runOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", sr.schedule, err)
	}

	sr.mu.Lock()
	sr.cron = c
	sr.mu.Unlock()

	c.Start()
	log.Printf("[BackupSchedule] Scheduled backups with %q", sr.schedule)

	go func() {
		<-ctx.Done()
		sr.Stop()
	}()
	return nil
}

// Stop stops the cron loop and waits for a running backup to return
func (sr *ScheduleRunner) Stop() {
	sr.mu.Lock()
	c := sr.cron
	sr.cron = nil
	sr.mu.Unlock()

	if c != nil {
		log.Printf("[BackupSchedule] Stopping schedule runner")
		<-c.Stop().Done()
	}
}

// NextRun returns the next time the schedule fires after from
func (sr *ScheduleRunner) NextRun(from time.Time) (time.Time, error) {
	return computeNextRun(sr.schedule, from)
}

func (sr *ScheduleRunner) runOnce(ctx context.Context) {
	if sr.queue == nil {
		if _, err := sr.execute(ctx, nil); err != nil {
			log.Printf("[BackupSchedule] Scheduled backup failed: %v", err)
		}
		return
	}

	id, err := sr.queue.Submit(ctx, "scheduled_backup", sr.execute)
	if err != nil {
		log.Printf("[BackupSchedule] Failed to queue scheduled backup: %v", err)
		return
	}
	log.Printf("[BackupSchedule] Queued scheduled backup as task %s", id)
}

func (sr *ScheduleRunner) execute(ctx context.Context, sink tasks.Sink) (string, error) {
	artifact, err := sr.backupMgr.Backup(ctx, sink)
	if err != nil {
		return "", err
	}

	if sr.keep > 0 && sr.retentionMgr != nil {
		if _, err := sr.retentionMgr.Enforce(ctx, sr.keep); err != nil {
			log.Printf("[BackupSchedule] Retention enforcement failed: %v", err)
		}
	}
	return "Stored backup " + artifact.Name, nil
}

func computeNextRun(schedule string, from time.Time) (time.Time, error) {
	parsed, err := scheduleParser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.Next(from), nil
}
