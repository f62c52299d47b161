package reconcile

import (
	"context"

	"github.com/brunopacheco/pixgate-backend/internal/transactions"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
	"github.com/brunopacheco/pixgate-backend/pkg/mercadopago"
)

// PaymentFetcher is the provider surface the syncer needs.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
}

// SyncerParams configures a Syncer.
type SyncerParams struct {
	Repo     transactions.Repository
	Engine   *Engine
	Provider PaymentFetcher
	Logger   *logger.Logger
}

// Syncer performs the fetch-map-apply sequence shared by webhook delivery and
// client polling. Both triggers converge on the same engine call; neither
// trusts its input payload as a status source — the provider's payment API is
// always re-queried first.
type Syncer struct {
	repo     transactions.Repository
	engine   *Engine
	provider PaymentFetcher
	logg     *logger.Logger
}

// NewSyncer wires the syncer's dependencies.
func NewSyncer(params SyncerParams) (*Syncer, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation engine required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment provider required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Syncer{
		repo:     params.Repo,
		engine:   params.Engine,
		provider: params.Provider,
		logg:     params.Logger,
	}, nil
}

// SyncByProviderPaymentID re-fetches a payment from the provider and drives
// the resulting status through the engine. Used by the webhook path, where
// only the provider's payment id is known.
func (s *Syncer) SyncByProviderPaymentID(ctx context.Context, providerPaymentID string, source enums.ReconcileSource) (*Result, error) {
	if providerPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider payment id required")
	}

	payment, err := s.provider.GetPayment(ctx, providerPaymentID)
	if err != nil {
		return nil, err
	}

	txn, err := s.correlate(ctx, payment)
	if err != nil {
		return nil, err
	}

	return s.apply(ctx, txn.ID, payment, source)
}

// SyncTransaction re-checks one stored transaction against the provider.
// Used by the polling path. Already-terminal transactions short-circuit
// without a provider round trip.
func (s *Syncer) SyncTransaction(ctx context.Context, txn *models.Transaction, source enums.ReconcileSource) (*Result, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	if txn.IsTerminal() {
		return &Result{Applied: false, Transaction: txn}, nil
	}
	if txn.ProviderPaymentID == nil || *txn.ProviderPaymentID == "" {
		// Nothing to query yet; the webhook or a later poll will attach it.
		s.logg.Warn(s.logg.WithTransactionID(ctx, txn.ID), "transaction has no provider payment id; skipping provider check")
		return &Result{Applied: false, Transaction: txn}, nil
	}

	payment, err := s.provider.GetPayment(ctx, *txn.ProviderPaymentID)
	if err != nil {
		return nil, err
	}

	return s.apply(ctx, txn.ID, payment, source)
}

func (s *Syncer) correlate(ctx context.Context, payment *mercadopago.Payment) (*models.Transaction, error) {
	// The external reference carries our own transaction id.
	if ref := payment.ExternalReference; ref != "" {
		txn, err := s.repo.Get(ctx, ref)
		if err == nil {
			return txn, nil
		}
		if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
	}
	return s.repo.FindByProviderPaymentID(ctx, payment.PaymentID())
}

func (s *Syncer) apply(ctx context.Context, transactionID string, payment *mercadopago.Payment, source enums.ReconcileSource) (*Result, error) {
	status := MapProviderStatus(payment.Status)
	return s.engine.ApplyStatus(ctx, transactionID, status, Metadata{
		Source:            source,
		RawProviderStatus: payment.Status,
		StatusDetail:      payment.StatusDetail,
		ProviderPaymentID: payment.PaymentID(),
	})
}
