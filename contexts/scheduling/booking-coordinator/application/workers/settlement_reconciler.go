package workers

import (
	"context"
	"log/slog"
	"time"

	application "gymcore/contexts/scheduling/booking-coordinator/application"
	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	"gymcore/contexts/scheduling/booking-coordinator/ports"
)

const (
	defaultReconcileGrace       = 30 * time.Second
	defaultReconcileMaxAttempts = 10
	defaultReconcileBatchSize   = 50
)

// SettlementDriver re-drives the saga steps of a recorded payment.
type SettlementDriver interface {
	Resume(ctx context.Context, paymentID string) (entities.Settlement, error)
	Settle(ctx context.Context, payment entities.Payment) (entities.Settlement, error, error)
}

// SettlementReconciler is the recovery path for payments whose class credit
// or slot booking did not land: failed steps, crashes between steps, and
// requests cancelled after the payment insert.
type SettlementReconciler struct {
	Payments     ports.PaymentRepository
	Settlements  ports.SettlementRepository
	Driver       SettlementDriver
	Clock        ports.Clock
	Grace        time.Duration
	MaxAttempts  int
	BatchSize    int
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// ReconcileReport summarises one sweep.
type ReconcileReport struct {
	Resumed   int
	Completed int
	Orphans   int
	Abandoned int
}

func (r SettlementReconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	logger := application.ResolveLogger(r.Logger)
	grace := r.Grace
	if grace <= 0 {
		grace = defaultReconcileGrace
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultReconcileMaxAttempts
	}
	limit := r.BatchSize
	if limit <= 0 {
		limit = defaultReconcileBatchSize
	}
	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}
	cutoff := now.Add(-grace)

	var report ReconcileReport

	listCtx, cancel := application.StoreContext(ctx, r.StoreTimeout)
	incomplete, err := r.Settlements.ListIncompleteSettlements(listCtx, cutoff, maxAttempts, limit)
	cancel()
	if err != nil {
		logger.Error("incomplete settlement list failed",
			"event", "booking_reconcile_list_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "worker",
			"error", err.Error(),
		)
		return report, application.ClassifyStoreError(err)
	}
	for _, pending := range incomplete {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		settlement, err := r.Driver.Resume(ctx, pending.PaymentID)
		if err != nil {
			logger.Error("settlement resume failed",
				"event", "booking_reconcile_resume_failed",
				"module", "scheduling/booking-coordinator",
				"layer", "worker",
				"payment_id", pending.PaymentID,
				"error", err.Error(),
			)
			continue
		}
		report.Resumed++
		r.account(logger, &report, settlement, maxAttempts)
	}

	orphanCtx, cancel := application.StoreContext(ctx, r.StoreTimeout)
	orphans, err := r.Payments.ListPaymentsWithoutSettlement(orphanCtx, cutoff, limit)
	cancel()
	if err != nil {
		logger.Error("orphan payment list failed",
			"event", "booking_reconcile_orphan_list_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "worker",
			"error", err.Error(),
		)
		return report, application.ClassifyStoreError(err)
	}
	for _, payment := range orphans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		settlement, _, _ := r.Driver.Settle(ctx, payment)
		report.Orphans++
		r.account(logger, &report, settlement, maxAttempts)
	}

	if report.Resumed+report.Orphans == 0 {
		logger.Debug("settlement reconciler found nothing to do",
			"event", "booking_reconcile_noop",
			"module", "scheduling/booking-coordinator",
			"layer", "worker",
		)
		return report, nil
	}
	logger.Info("settlement reconciler cycle completed",
		"event", "booking_reconcile_completed",
		"module", "scheduling/booking-coordinator",
		"layer", "worker",
		"resumed", report.Resumed,
		"orphans", report.Orphans,
		"completed", report.Completed,
		"abandoned", report.Abandoned,
	)
	return report, nil
}

func (r SettlementReconciler) account(
	logger *slog.Logger,
	report *ReconcileReport,
	settlement entities.Settlement,
	maxAttempts int,
) {
	if settlement.Complete() {
		report.Completed++
		return
	}
	if settlement.Attempts >= maxAttempts {
		report.Abandoned++
		logger.Error("settlement abandoned after max attempts; manual follow-up required",
			"event", "booking_reconcile_abandoned",
			"module", "scheduling/booking-coordinator",
			"layer", "worker",
			"payment_id", settlement.PaymentID,
			"class_step", string(settlement.ClassStep),
			"class_error", settlement.ClassError,
			"slot_step", string(settlement.SlotStep),
			"slot_error", settlement.SlotError,
			"attempts", settlement.Attempts,
		)
	}
}
