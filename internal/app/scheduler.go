/**
 * @description
 * Cron scheduler for the billing jobs. The registry owns a task-name to
 * entry-id mapping; reconfiguring one task replaces only that task's trigger
 * and every job is wrapped so a new trigger never overlaps a still-running
 * run of the same task.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/netbill/billing-service/internal/domain"
	"github.com/netbill/billing-service/internal/store"
)

// ErrOrderingViolation rejects schedules that would generate invoices before
// the day's isolation sweep has run.
var ErrOrderingViolation = errors.New("invoice generation must be scheduled after the isolation sweep")

// ScheduleStore defines the persistence operations for task schedules.
type ScheduleStore interface {
	ListSchedulerSettings(ctx context.Context) ([]domain.SchedulerSetting, error)
	GetSchedulerSetting(ctx context.Context, taskName string) (*domain.SchedulerSetting, error)
	UpsertSchedulerSetting(ctx context.Context, s domain.SchedulerSetting) error
}

// SchedulerRegistry maps task names to cron entries. Entries are owned
// instances, never package-level state; replacing one never touches the rest.
type SchedulerRegistry struct {
	cron   *cron.Cron
	chain  cron.Chain
	logger *slog.Logger
	store  ScheduleStore

	mu      sync.Mutex
	bodies  map[string]func()
	entries map[string]cron.EntryID
}

// NewSchedulerRegistry creates a registry running in the business timezone.
func NewSchedulerRegistry(scheduleStore ScheduleStore, logger *slog.Logger, loc *time.Location) *SchedulerRegistry {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &SchedulerRegistry{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cronLogger))),
		chain:   cron.NewChain(cron.SkipIfStillRunning(cronLogger)),
		logger:  logger,
		store:   scheduleStore,
		bodies:  make(map[string]func()),
		entries: make(map[string]cron.EntryID),
	}
}

// RegisterTask binds a task name to its job body. Registration alone does not
// schedule anything; the persisted setting decides that.
func (r *SchedulerRegistry) RegisterTask(taskName string, body func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies[taskName] = body
}

// Start loads every registered task's persisted setting, schedules the
// enabled ones, and starts the cron loop.
func (r *SchedulerRegistry) Start(ctx context.Context) error {
	r.mu.Lock()
	for taskName := range r.bodies {
		if err := r.reloadLocked(ctx, taskName); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	r.mu.Unlock()

	r.cron.Start()
	r.logger.Info("scheduler started", "tasks", len(r.entries))
	return nil
}

// Reload re-reads one task's setting and replaces only that task's trigger.
func (r *SchedulerRegistry) Reload(ctx context.Context, taskName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked(ctx, taskName)
}

func (r *SchedulerRegistry) reloadLocked(ctx context.Context, taskName string) error {
	body, ok := r.bodies[taskName]
	if !ok {
		return domain.ErrUnknownTask
	}

	if entryID, scheduled := r.entries[taskName]; scheduled {
		r.cron.Remove(entryID)
		delete(r.entries, taskName)
	}

	setting, err := r.store.GetSchedulerSetting(ctx, taskName)
	if errors.Is(err, store.ErrSettingNotFound) {
		r.logger.Info("no schedule persisted for task, leaving unscheduled", "task", taskName)
		return nil
	}
	if err != nil {
		return err
	}
	if !setting.Enabled {
		r.logger.Info("task disabled", "task", taskName)
		return nil
	}

	entryID, err := r.cron.AddJob(setting.CronSpec(), r.chain.Then(cron.FuncJob(body)))
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", taskName, err)
	}
	r.entries[taskName] = entryID
	r.logger.Info("scheduled task", "task", taskName, "spec", setting.CronSpec())
	return nil
}

// Stop gracefully stops the cron scheduler.
func (r *SchedulerRegistry) Stop() context.Context {
	return r.cron.Stop()
}

// SchedulerService is the admin surface for schedule configuration.
type SchedulerService struct {
	store    ScheduleStore
	registry *SchedulerRegistry
	logger   *slog.Logger
}

// NewSchedulerService creates the schedule configuration service. The
// registry may be nil when no live scheduler should be reloaded.
func NewSchedulerService(scheduleStore ScheduleStore, registry *SchedulerRegistry, logger *slog.Logger) *SchedulerService {
	return &SchedulerService{store: scheduleStore, registry: registry, logger: logger}
}

// ListSchedules returns every persisted task schedule.
func (s *SchedulerService) ListSchedules(ctx context.Context) ([]domain.SchedulerSetting, error) {
	return s.store.ListSchedulerSettings(ctx)
}

// GetSchedule returns one task's schedule.
func (s *SchedulerService) GetSchedule(ctx context.Context, taskName string) (*domain.SchedulerSetting, error) {
	return s.store.GetSchedulerSetting(ctx, taskName)
}

// UpdateSchedule validates, persists, and re-registers one task's schedule.
// Only the named task's trigger is replaced.
func (s *SchedulerService) UpdateSchedule(ctx context.Context, setting domain.SchedulerSetting) (*domain.SchedulerSetting, error) {
	if err := setting.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOrdering(ctx, setting); err != nil {
		return nil, err
	}

	if err := s.store.UpsertSchedulerSetting(ctx, setting); err != nil {
		return nil, err
	}

	if s.registry != nil {
		if err := s.registry.Reload(ctx, setting.TaskName); err != nil {
			return nil, err
		}
	}

	s.logger.Info("schedule updated", "task", setting.TaskName, "spec", setting.CronSpec(), "enabled", setting.Enabled)
	return s.store.GetSchedulerSetting(ctx, setting.TaskName)
}

// checkOrdering enforces the isolation-before-generation constraint: on any
// day both fire, the isolation sweep must run strictly earlier than invoice
// generation, so a customer isolated for the prior period is never handed a
// fresh invoice first.
func (s *SchedulerService) checkOrdering(ctx context.Context, setting domain.SchedulerSetting) error {
	var other *domain.SchedulerSetting
	var err error

	switch setting.TaskName {
	case domain.TaskInvoiceGeneration:
		other, err = s.store.GetSchedulerSetting(ctx, domain.TaskIsolationSweep)
		if errors.Is(err, store.ErrSettingNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if other.Enabled && setting.Enabled && sharesFiringDay(setting, *other) &&
			setting.TimeOfDayMinutes() <= other.TimeOfDayMinutes() {
			return ErrOrderingViolation
		}
	case domain.TaskIsolationSweep:
		other, err = s.store.GetSchedulerSetting(ctx, domain.TaskInvoiceGeneration)
		if errors.Is(err, store.ErrSettingNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if other.Enabled && setting.Enabled && sharesFiringDay(setting, *other) &&
			other.TimeOfDayMinutes() <= setting.TimeOfDayMinutes() {
			return ErrOrderingViolation
		}
	}
	return nil
}

// sharesFiringDay reports whether two settings can fire on the same
// day-of-month. An empty day set means daily.
func sharesFiringDay(a, b domain.SchedulerSetting) bool {
	if len(a.Days) == 0 || len(b.Days) == 0 {
		return true
	}
	for _, d := range a.Days {
		if b.FiresAt(d) {
			return true
		}
	}
	return false
}
