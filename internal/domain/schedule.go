/**
 * @description
 * Structured per-task schedule configuration for the orchestrator. Days are
 * persisted as a real integer set, never a packed string parsed at read time.
 */
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Task names known to the scheduler.
const (
	TaskIsolationSweep    = "isolation_sweep"
	TaskRestoreSweep      = "restore_sweep"
	TaskInvoiceGeneration = "invoice_generation"
	TaskPaymentReminders  = "payment_reminders"
	TaskOverdueNotices    = "overdue_notices"
	TaskIsolationWarnings = "isolation_warnings"
	TaskLatePaymentRecalc = "late_payment_recalc"
	TaskSLARebateCalc     = "sla_rebate_calc"
)

var (
	ErrUnknownTask     = errors.New("unknown scheduler task")
	ErrInvalidSchedule = errors.New("invalid schedule configuration")
)

// KnownTasks lists every schedulable task.
var KnownTasks = []string{
	TaskIsolationSweep,
	TaskRestoreSweep,
	TaskInvoiceGeneration,
	TaskPaymentReminders,
	TaskOverdueNotices,
	TaskIsolationWarnings,
	TaskLatePaymentRecalc,
	TaskSLARebateCalc,
}

// KnownTask reports whether name is a schedulable task.
func KnownTask(name string) bool {
	for _, t := range KnownTasks {
		if t == name {
			return true
		}
	}
	return false
}

// SchedulerSetting configures one recurring task. An empty Days set means the
// task runs daily at the configured time.
type SchedulerSetting struct {
	TaskName  string    `json:"task_name"`
	Days      []int     `json:"days"`
	Hour      int       `json:"hour"`
	Minute    int       `json:"minute"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks field ranges and de-duplicates and sorts the day set.
func (s *SchedulerSetting) Validate() error {
	if !KnownTask(s.TaskName) {
		return ErrUnknownTask
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("%w: hour %d out of range", ErrInvalidSchedule, s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("%w: minute %d out of range", ErrInvalidSchedule, s.Minute)
	}

	seen := make(map[int]bool, len(s.Days))
	days := make([]int, 0, len(s.Days))
	for _, d := range s.Days {
		if d < 1 || d > 31 {
			return fmt.Errorf("%w: day-of-month %d out of range", ErrInvalidSchedule, d)
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	s.Days = days
	return nil
}

// CronSpec renders the setting as a robfig/cron expression.
func (s SchedulerSetting) CronSpec() string {
	dayField := "*"
	if len(s.Days) > 0 {
		parts := make([]string, len(s.Days))
		for i, d := range s.Days {
			parts[i] = strconv.Itoa(d)
		}
		dayField = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d %s * *", s.Minute, s.Hour, dayField)
}

// FiresAt reports whether the setting would fire on the given day-of-month.
func (s SchedulerSetting) FiresAt(day int) bool {
	if len(s.Days) == 0 {
		return true
	}
	for _, d := range s.Days {
		if d == day {
			return true
		}
	}
	return false
}

// TimeOfDayMinutes returns the scheduled time as minutes since midnight.
func (s SchedulerSetting) TimeOfDayMinutes() int {
	return s.Hour*60 + s.Minute
}
