package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/brunopacheco/pixgate-backend/internal/reconcile"
	"github.com/brunopacheco/pixgate-backend/internal/transactions"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
)

const expiredBatchSize = 200

type pendingLister interface {
	List(ctx context.Context, filter transactions.ListFilter) ([]models.Transaction, error)
}

type statusApplier interface {
	ApplyStatus(ctx context.Context, transactionID string, status enums.TransactionStatus, meta reconcile.Metadata) (*reconcile.Result, error)
}

// ExpiredTransactionsJobParams configure the expiry sweep.
type ExpiredTransactionsJobParams struct {
	Logger *logger.Logger
	Repo   pendingLister
	Engine statusApplier
}

// NewExpiredTransactionsJob builds the job that expires pending transactions
// whose PIX code lapsed without a client actively polling them. Every
// transition goes through the reconciliation engine, so a payment that
// landed between the query and the write is never overwritten.
func NewExpiredTransactionsJob(params ExpiredTransactionsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	return &expiredTransactionsJob{
		logg:   params.Logger,
		repo:   params.Repo,
		engine: params.Engine,
		now:    time.Now,
	}, nil
}

type expiredTransactionsJob struct {
	logg   *logger.Logger
	repo   pendingLister
	engine statusApplier
	now    func() time.Time
}

func (j *expiredTransactionsJob) Name() string { return "expired-transactions" }

func (j *expiredTransactionsJob) Run(ctx context.Context) error {
	stale, err := j.repo.List(ctx, transactions.ListFilter{
		Status:        enums.TransactionStatusPending,
		ExpiresBefore: j.now().UTC(),
		Limit:         expiredBatchSize,
	})
	if err != nil {
		return fmt.Errorf("query lapsed transactions: %w", err)
	}

	var errs []error
	expired := 0
	for _, txn := range stale {
		_, applyErr := j.engine.ApplyStatus(ctx, txn.ID, enums.TransactionStatusExpired, reconcile.Metadata{
			Source: enums.ReconcileSourceSweep,
		})
		if applyErr != nil {
			// A terminal status written since the query wins; anything else
			// is a real failure for this cycle.
			if pkgerrors.HasCode(applyErr, pkgerrors.CodeStateConflict) || pkgerrors.HasCode(applyErr, pkgerrors.CodeNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("expire transaction %s: %w", txn.ID, applyErr))
			continue
		}
		expired++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"candidates": len(stale), "expired": expired})
	j.logg.Info(logCtx, "expiry sweep complete")
	return multierr.Combine(errs...)
}
