package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/brunopacheco/pixgate-backend/internal/transactions"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
	"github.com/brunopacheco/pixgate-backend/pkg/metrics"
)

// Metadata attributes a transition attempt to its trigger for audit.
type Metadata struct {
	Source            enums.ReconcileSource
	RawProviderStatus string
	StatusDetail      string
	ProviderPaymentID string
}

// Result reports the outcome of an ApplyStatus call.
type Result struct {
	Applied     bool
	Transaction *models.Transaction
}

// EngineParams configures the reconciliation engine.
type EngineParams struct {
	Repo    transactions.Repository
	Logger  *logger.Logger
	Metrics *metrics.ReconcileMetrics
}

// Engine is the state machine that converges transactions on a single
// terminal status. It is the only writer of transaction status; webhook
// delivery, client polling, and the expiry sweep all feed it.
type Engine struct {
	repo    transactions.Repository
	logg    *logger.Logger
	metrics *metrics.ReconcileMetrics
	now     func() time.Time
}

// NewEngine wires the engine's dependencies.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Engine{
		repo:    params.Repo,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

// duplicateTerminal marks an absorbed duplicate so the store update is
// aborted without touching the record.
var duplicateTerminal = errors.New("duplicate terminal notification")

// ApplyStatus drives one transition attempt against the stored transaction.
//
// Transition rules:
//   - pending → terminal: applied; paid sets paidAt exactly once.
//   - pending → pending: refreshes raw provider status metadata only.
//   - terminal → same terminal: absorbed as a no-op (duplicate delivery).
//   - terminal → different terminal: rejected; a recorded terminal status is
//     money already reconciled and is never overwritten.
//
// Unknown ids fail with NotFound and never create a placeholder record.
func (e *Engine) ApplyStatus(ctx context.Context, transactionID string, status enums.TransactionStatus, meta Metadata) (*Result, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid internal status")
	}

	ctx = e.logg.WithFields(ctx, map[string]any{
		"transaction_id": transactionID,
		"source":         string(meta.Source),
		"raw_status":     meta.RawProviderStatus,
		"next_status":    string(status),
	})

	applied := false
	updated, err := e.repo.Update(ctx, transactionID, func(txn *models.Transaction) error {
		if txn.Status.IsTerminal() {
			if txn.Status == status {
				return duplicateTerminal
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "terminal status contradicted").
				WithDetails(map[string]any{
					"current_status":   string(txn.Status),
					"attempted_status": string(status),
					"source":           string(meta.Source),
					"raw_status":       meta.RawProviderStatus,
				})
		}

		e.attachMetadata(txn, meta)

		if status == enums.TransactionStatusPending {
			// Metadata refresh only; still bumps updatedAt through the store.
			return nil
		}

		txn.Status = status
		if status == enums.TransactionStatusPaid && txn.PaidAt == nil {
			paidAt := e.now().UTC()
			txn.PaidAt = &paidAt
		}
		applied = true
		return nil
	})

	switch {
	case err == nil:
		if applied {
			e.metrics.IncApplied(string(meta.Source), string(status))
			e.logg.Info(ctx, "transition applied")
		} else {
			e.metrics.IncNoop(string(meta.Source), string(status))
			e.logg.Info(ctx, "provider status refreshed")
		}
		return &Result{Applied: applied, Transaction: updated}, nil

	case errors.Is(err, duplicateTerminal):
		e.metrics.IncNoop(string(meta.Source), string(status))
		e.logg.Info(ctx, "duplicate terminal notification absorbed")
		current, getErr := e.repo.Get(ctx, transactionID)
		if getErr != nil {
			return nil, getErr
		}
		return &Result{Applied: false, Transaction: current}, nil

	case pkgerrors.HasCode(err, pkgerrors.CodeStateConflict):
		e.metrics.IncRejected(string(meta.Source), string(status))
		e.metrics.IncAnomaly()
		e.logg.Error(ctx, "terminal status contradicted; transition rejected", err)
		return nil, err

	default:
		return nil, err
	}
}

func (e *Engine) attachMetadata(txn *models.Transaction, meta Metadata) {
	if meta.RawProviderStatus != "" {
		raw := meta.RawProviderStatus
		txn.RawProviderStatus = &raw
	}
	if meta.StatusDetail != "" {
		detail := meta.StatusDetail
		txn.StatusDetail = &detail
	}
	if meta.ProviderPaymentID != "" && txn.ProviderPaymentID == nil {
		id := meta.ProviderPaymentID
		txn.ProviderPaymentID = &id
	}
}
