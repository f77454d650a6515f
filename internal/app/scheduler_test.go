package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/netbill/billing-service/internal/domain"
	"github.com/netbill/billing-service/internal/store"
)

type scheduleStoreStub struct {
	settings map[string]domain.SchedulerSetting
}

func newScheduleStoreStub(settings ...domain.SchedulerSetting) *scheduleStoreStub {
	s := &scheduleStoreStub{settings: make(map[string]domain.SchedulerSetting)}
	for _, setting := range settings {
		s.settings[setting.TaskName] = setting
	}
	return s
}

func (s *scheduleStoreStub) ListSchedulerSettings(ctx context.Context) ([]domain.SchedulerSetting, error) {
	out := make([]domain.SchedulerSetting, 0, len(s.settings))
	for _, setting := range s.settings {
		out = append(out, setting)
	}
	return out, nil
}

func (s *scheduleStoreStub) GetSchedulerSetting(ctx context.Context, taskName string) (*domain.SchedulerSetting, error) {
	setting, ok := s.settings[taskName]
	if !ok {
		return nil, store.ErrSettingNotFound
	}
	return &setting, nil
}

func (s *scheduleStoreStub) UpsertSchedulerSetting(ctx context.Context, setting domain.SchedulerSetting) error {
	s.settings[setting.TaskName] = setting
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateScheduleRejectsInvalidSetting(t *testing.T) {
	svc := NewSchedulerService(newScheduleStoreStub(), nil, testLogger())

	_, err := svc.UpdateSchedule(context.Background(), domain.SchedulerSetting{TaskName: "bogus", Hour: 1})
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestUpdateSchedulePersistsAndReturns(t *testing.T) {
	storeStub := newScheduleStoreStub()
	svc := NewSchedulerService(storeStub, nil, testLogger())

	setting, err := svc.UpdateSchedule(context.Background(), domain.SchedulerSetting{
		TaskName: domain.TaskRestoreSweep,
		Hour:     3,
		Minute:   30,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if setting.Hour != 3 || setting.Minute != 30 || !setting.Enabled {
		t.Fatalf("unexpected persisted setting %+v", setting)
	}
}

func TestUpdateScheduleRejectsGenerationBeforeIsolation(t *testing.T) {
	storeStub := newScheduleStoreStub(domain.SchedulerSetting{
		TaskName: domain.TaskIsolationSweep,
		Days:     []int{1},
		Hour:     6,
		Minute:   0,
		Enabled:  true,
	})
	svc := NewSchedulerService(storeStub, nil, testLogger())

	tests := []struct {
		name    string
		hour    int
		minute  int
		wantErr bool
	}{
		{"generation before isolation", 5, 0, true},
		{"generation at the same minute", 6, 0, true},
		{"generation after isolation", 6, 30, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateSchedule(context.Background(), domain.SchedulerSetting{
				TaskName: domain.TaskInvoiceGeneration,
				Days:     []int{1},
				Hour:     tt.hour,
				Minute:   tt.minute,
				Enabled:  true,
			})
			if tt.wantErr && !errors.Is(err, ErrOrderingViolation) {
				t.Fatalf("expected ErrOrderingViolation, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestUpdateScheduleRejectsMovingIsolationAfterGeneration(t *testing.T) {
	storeStub := newScheduleStoreStub(domain.SchedulerSetting{
		TaskName: domain.TaskInvoiceGeneration,
		Days:     []int{1},
		Hour:     7,
		Minute:   0,
		Enabled:  true,
	})
	svc := NewSchedulerService(storeStub, nil, testLogger())

	_, err := svc.UpdateSchedule(context.Background(), domain.SchedulerSetting{
		TaskName: domain.TaskIsolationSweep,
		Days:     []int{1},
		Hour:     8,
		Minute:   0,
		Enabled:  true,
	})
	if !errors.Is(err, ErrOrderingViolation) {
		t.Fatalf("expected ErrOrderingViolation, got %v", err)
	}
}

func TestUpdateScheduleAllowsConflictOnDisjointDays(t *testing.T) {
	storeStub := newScheduleStoreStub(domain.SchedulerSetting{
		TaskName: domain.TaskIsolationSweep,
		Days:     []int{1},
		Hour:     6,
		Minute:   0,
		Enabled:  true,
	})
	svc := NewSchedulerService(storeStub, nil, testLogger())

	_, err := svc.UpdateSchedule(context.Background(), domain.SchedulerSetting{
		TaskName: domain.TaskInvoiceGeneration,
		Days:     []int{15},
		Hour:     5,
		Minute:   0,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("tasks firing on different days must not conflict: %v", err)
	}
}

func TestUpdateScheduleIgnoresDisabledCounterpart(t *testing.T) {
	storeStub := newScheduleStoreStub(domain.SchedulerSetting{
		TaskName: domain.TaskIsolationSweep,
		Hour:     6,
		Minute:   0,
		Enabled:  false,
	})
	svc := NewSchedulerService(storeStub, nil, testLogger())

	_, err := svc.UpdateSchedule(context.Background(), domain.SchedulerSetting{
		TaskName: domain.TaskInvoiceGeneration,
		Hour:     5,
		Minute:   0,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("disabled counterpart must not trigger the ordering guard: %v", err)
	}
}

func TestRegistryReloadReplacesOnlyNamedTask(t *testing.T) {
	storeStub := newScheduleStoreStub(
		domain.SchedulerSetting{TaskName: domain.TaskIsolationSweep, Hour: 1, Enabled: true},
		domain.SchedulerSetting{TaskName: domain.TaskRestoreSweep, Hour: 2, Enabled: true},
	)
	registry := NewSchedulerRegistry(storeStub, testLogger(), time.UTC)
	registry.RegisterTask(domain.TaskIsolationSweep, func() {})
	registry.RegisterTask(domain.TaskRestoreSweep, func() {})

	ctx := context.Background()
	if err := registry.Reload(ctx, domain.TaskIsolationSweep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.Reload(ctx, domain.TaskRestoreSweep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restoreEntry := registry.entries[domain.TaskRestoreSweep]

	// Reconfiguring the isolation sweep must leave the restore sweep's entry
	// untouched.
	storeStub.settings[domain.TaskIsolationSweep] = domain.SchedulerSetting{
		TaskName: domain.TaskIsolationSweep, Hour: 4, Enabled: true,
	}
	if err := registry.Reload(ctx, domain.TaskIsolationSweep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if registry.entries[domain.TaskRestoreSweep] != restoreEntry {
		t.Fatal("reloading one task must not replace another task's entry")
	}
}

func TestRegistryReloadUnschedulesDisabledTask(t *testing.T) {
	storeStub := newScheduleStoreStub(
		domain.SchedulerSetting{TaskName: domain.TaskIsolationSweep, Hour: 1, Enabled: true},
	)
	registry := NewSchedulerRegistry(storeStub, testLogger(), time.UTC)
	registry.RegisterTask(domain.TaskIsolationSweep, func() {})

	ctx := context.Background()
	if err := registry.Reload(ctx, domain.TaskIsolationSweep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := registry.entries[domain.TaskIsolationSweep]; !ok {
		t.Fatal("expected task scheduled")
	}

	storeStub.settings[domain.TaskIsolationSweep] = domain.SchedulerSetting{
		TaskName: domain.TaskIsolationSweep, Hour: 1, Enabled: false,
	}
	if err := registry.Reload(ctx, domain.TaskIsolationSweep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := registry.entries[domain.TaskIsolationSweep]; ok {
		t.Fatal("expected disabled task unscheduled")
	}
}

func TestRegistryReloadUnknownTask(t *testing.T) {
	registry := NewSchedulerRegistry(newScheduleStoreStub(), testLogger(), time.UTC)
	if err := registry.Reload(context.Background(), "bogus"); !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}
