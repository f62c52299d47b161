package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/brunopacheco/pixgate-backend/internal/reconcile"
	"github.com/brunopacheco/pixgate-backend/internal/transactions"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
)

const reconcileBatchSize = 100

type transactionSyncer interface {
	SyncTransaction(ctx context.Context, txn *models.Transaction, source enums.ReconcileSource) (*reconcile.Result, error)
}

// PendingReconcileJobParams configure the pending re-sync job.
type PendingReconcileJobParams struct {
	Logger *logger.Logger
	Repo   pendingLister
	Syncer transactionSyncer
}

// NewPendingReconcileJob builds the safety-net job that re-checks every
// still-pending transaction against the provider. It catches payments whose
// webhook never arrived and whose payer closed the page before the poller
// could observe the change.
func NewPendingReconcileJob(params PendingReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("status syncer required")
	}
	return &pendingReconcileJob{
		logg:   params.Logger,
		repo:   params.Repo,
		syncer: params.Syncer,
	}, nil
}

type pendingReconcileJob struct {
	logg   *logger.Logger
	repo   pendingLister
	syncer transactionSyncer
}

func (j *pendingReconcileJob) Name() string { return "pending-reconcile" }

func (j *pendingReconcileJob) Run(ctx context.Context) error {
	pending, err := j.repo.List(ctx, transactions.ListFilter{
		Status: enums.TransactionStatusPending,
		Limit:  reconcileBatchSize,
	})
	if err != nil {
		return fmt.Errorf("query pending transactions: %w", err)
	}

	var errs []error
	applied := 0
	for i := range pending {
		txn := pending[i]
		result, syncErr := j.syncer.SyncTransaction(ctx, &txn, enums.ReconcileSourceSweep)
		if syncErr != nil {
			errs = append(errs, fmt.Errorf("reconcile transaction %s: %w", txn.ID, syncErr))
			continue
		}
		if result.Applied {
			applied++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"candidates": len(pending), "applied": applied})
	j.logg.Info(logCtx, "pending reconcile sweep complete")
	return multierr.Combine(errs...)
}
