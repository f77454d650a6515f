/**
 * @description
 * Persistence for per-task scheduler settings. Days-of-month are stored as a
 * real integer array column, never a packed string.
 */
package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/netbill/billing-service/internal/domain"
)

func scanSchedulerSetting(row rowScanner) (*domain.SchedulerSetting, error) {
	var s domain.SchedulerSetting
	var days []int32
	if err := row.Scan(&s.TaskName, &days, &s.Hour, &s.Minute, &s.Enabled, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Days = make([]int, len(days))
	for i, d := range days {
		s.Days[i] = int(d)
	}
	return &s, nil
}

// ListSchedulerSettings returns every persisted task configuration.
func (r *Repository) ListSchedulerSettings(ctx context.Context) ([]domain.SchedulerSetting, error) {
	rows, err := r.db.Query(ctx, `
		SELECT task_name, days, hour, minute, enabled, updated_at
		FROM scheduler_settings
		ORDER BY task_name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []domain.SchedulerSetting
	for rows.Next() {
		s, err := scanSchedulerSetting(rows)
		if err != nil {
			return nil, err
		}
		settings = append(settings, *s)
	}
	return settings, rows.Err()
}

// GetSchedulerSetting returns one task's configuration.
func (r *Repository) GetSchedulerSetting(ctx context.Context, taskName string) (*domain.SchedulerSetting, error) {
	s, err := scanSchedulerSetting(r.db.QueryRow(ctx, `
		SELECT task_name, days, hour, minute, enabled, updated_at
		FROM scheduler_settings
		WHERE task_name = $1
	`, taskName))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSettingNotFound
		}
		return nil, err
	}
	return s, nil
}

// UpsertSchedulerSetting persists a task configuration.
func (r *Repository) UpsertSchedulerSetting(ctx context.Context, s domain.SchedulerSetting) error {
	days := make([]int32, len(s.Days))
	for i, d := range s.Days {
		days[i] = int32(d)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO scheduler_settings (task_name, days, hour, minute, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_name) DO UPDATE
		SET days = $2,
		    hour = $3,
		    minute = $4,
		    enabled = $5,
		    updated_at = NOW()
	`, s.TaskName, days, s.Hour, s.Minute, s.Enabled)
	return err
}
