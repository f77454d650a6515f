/**
 * @description
 * Scheduled job bodies for the billing engine. Each body runs to completion
 * under its own bounded context; the scheduler's no-overlap chain guarantees
 * a task never runs concurrently with itself.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/netbill/billing-service/internal/domain"
)

// jobTimeout bounds one full run of a sweep task.
const jobTimeout = 10 * time.Minute

// reminderDaysBefore is how far ahead of the due date payment reminders go
// out; warningDaysBefore the same for isolation warnings.
const (
	reminderDaysBefore = 3
	warningDaysBefore  = 3
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	invoices    *InvoiceService
	latePayment *LatePaymentService
	enforcement *EnforcementService
	discounts   *DiscountService
	logger      *slog.Logger
	loc         *time.Location
}

// NewJobs creates the scheduled task runner.
func NewJobs(invoices *InvoiceService, latePayment *LatePaymentService, enforcement *EnforcementService, discounts *DiscountService, logger *slog.Logger, loc *time.Location) *Jobs {
	return &Jobs{
		invoices:    invoices,
		latePayment: latePayment,
		enforcement: enforcement,
		discounts:   discounts,
		logger:      logger,
		loc:         loc,
	}
}

// RunIsolationSweep suspends customers owing past their effective deadline.
func (j *Jobs) RunIsolationSweep() {
	j.logger.Info("starting isolation sweep job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := j.enforcement.AutoIsolatePreviousMonthUnpaid(ctx)
	if err != nil {
		j.logger.Error("isolation sweep job failed", "error", err)
		return
	}
	j.logger.Info("isolation sweep job finished", "processed", result.Processed, "failed", result.Failed)
}

// RunRestoreSweep reactivates suspended customers with nothing unpaid.
func (j *Jobs) RunRestoreSweep() {
	j.logger.Info("starting restore sweep job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := j.enforcement.AutoRestorePaidCustomers(ctx)
	if err != nil {
		j.logger.Error("restore sweep job failed", "error", err)
		return
	}
	j.logger.Info("restore sweep job finished", "processed", result.Processed, "failed", result.Failed)
}

// RunInvoiceGeneration generates the current period's invoices. The isolation
// sweep runs first inside the same body: even if the schedules are
// misconfigured, a customer owing past deadline is isolated before a fresh
// invoice implying good standing can reach them.
func (j *Jobs) RunInvoiceGeneration() {
	j.logger.Info("starting invoice generation job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := j.enforcement.AutoIsolatePreviousMonthUnpaid(ctx); err != nil {
		j.logger.Error("pre-generation isolation sweep failed", "error", err)
	}

	period := time.Now().In(j.loc).Format("2006-01")
	result, err := j.invoices.GenerateMonthlyInvoices(ctx, period)
	if err != nil {
		j.logger.Error("invoice generation job failed", "period", period, "error", err)
		return
	}
	j.logger.Info("invoice generation job finished", "period", period, "created", result.Created, "failed", result.Failed)
}

// RunPaymentReminders sends due-soon reminders for the current period.
func (j *Jobs) RunPaymentReminders() {
	j.logger.Info("starting payment reminders job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := j.invoices.SendPaymentReminders(ctx, reminderDaysBefore)
	if err != nil {
		j.logger.Error("payment reminders job failed", "error", err)
		return
	}
	j.logger.Info("payment reminders job finished", "evaluated", result.Evaluated, "notified", result.Notified)
}

// RunOverdueNotices advances past-due invoices to overdue and notifies.
func (j *Jobs) RunOverdueNotices() {
	j.logger.Info("starting overdue notices job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := j.invoices.ProcessOverdueInvoices(ctx)
	if err != nil {
		j.logger.Error("overdue notices job failed", "error", err)
		return
	}
	j.logger.Info("overdue notices job finished", "marked_overdue", result.MarkedOverdue, "notified", result.Notified)
}

// RunIsolationWarnings sends the advance and last-call isolation warnings.
func (j *Jobs) RunIsolationWarnings() {
	j.logger.Info("starting isolation warnings job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := j.enforcement.SendIsolationWarnings(ctx, warningDaysBefore); err != nil {
		j.logger.Error("isolation warnings failed", "error", err)
	}
	if _, err := j.enforcement.SendPreBlockWarnings(ctx); err != nil {
		j.logger.Error("pre-block warnings failed", "error", err)
	}
	j.logger.Info("isolation warnings job finished")
}

// RunLatePaymentRecalc rebuilds the rolling late-payment counters.
func (j *Jobs) RunLatePaymentRecalc() {
	j.logger.Info("starting late payment recalculation job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := j.latePayment.DailyRecalculation(ctx)
	if err != nil {
		j.logger.Error("late payment recalculation job failed", "error", err)
		return
	}
	j.logger.Info("late payment recalculation job finished", "processed", result.Processed, "failed", result.Failed)
}

// RunSLARebateCalc applies SLA rebates for the previous period.
func (j *Jobs) RunSLARebateCalc() {
	j.logger.Info("starting sla rebate job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	period := domain.PreviousPeriod(time.Now().In(j.loc))
	result, err := j.discounts.RunSLASweep(ctx, period)
	if err != nil {
		j.logger.Error("sla rebate job failed", "period", period, "error", err)
		return
	}
	j.logger.Info("sla rebate job finished", "period", period, "applied", result.Applied, "failed", result.Failed)
}

// Register binds every job body to its task name on the registry.
func (j *Jobs) Register(registry *SchedulerRegistry) {
	registry.RegisterTask(domain.TaskIsolationSweep, j.RunIsolationSweep)
	registry.RegisterTask(domain.TaskRestoreSweep, j.RunRestoreSweep)
	registry.RegisterTask(domain.TaskInvoiceGeneration, j.RunInvoiceGeneration)
	registry.RegisterTask(domain.TaskPaymentReminders, j.RunPaymentReminders)
	registry.RegisterTask(domain.TaskOverdueNotices, j.RunOverdueNotices)
	registry.RegisterTask(domain.TaskIsolationWarnings, j.RunIsolationWarnings)
	registry.RegisterTask(domain.TaskLatePaymentRecalc, j.RunLatePaymentRecalc)
	registry.RegisterTask(domain.TaskSLARebateCalc, j.RunSLARebateCalc)
}
