package mpwebhook

import (
	"context"

	"github.com/brunopacheco/pixgate-backend/internal/reconcile"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
)

type statusSyncer interface {
	SyncByProviderPaymentID(ctx context.Context, providerPaymentID string, source enums.ReconcileSource) (*reconcile.Result, error)
}

type dedupeGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// ServiceParams configures the webhook service.
type ServiceParams struct {
	Syncer statusSyncer
	Guard  dedupeGuard
	Logger *logger.Logger
}

// Service processes verified Mercado Pago notifications. The payload is only
// a trigger: the authoritative status always comes from re-fetching the
// payment, never from the notification body.
type Service struct {
	syncer statusSyncer
	guard  dedupeGuard
	logg   *logger.Logger
}

// Outcome summarizes what a delivery did.
type Outcome struct {
	Skipped           bool
	Duplicate         bool
	Applied           bool
	ProviderPaymentID string
	Transaction       *models.Transaction
}

// NewService wires the webhook service. The dedupe guard is optional; without
// it every delivery is processed, which the engine's idempotent transitions
// make safe.
func NewService(params ServiceParams) (*Service, error) {
	if params.Syncer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "status syncer required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		syncer: params.Syncer,
		guard:  params.Guard,
		logg:   params.Logger,
	}, nil
}

// HandleEvent processes one verified notification. Non-payment topics are
// acknowledged without side effects.
func (s *Service) HandleEvent(ctx context.Context, event *Event, query map[string]string) (*Outcome, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event required")
	}

	if !s.isPaymentTopic(event, query) {
		s.logg.Info(s.logg.WithField(ctx, "webhook_type", event.Type), "ignoring non-payment webhook")
		return &Outcome{Skipped: true}, nil
	}

	paymentID := event.PaymentID(query)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook carries no payment id")
	}

	ctx = s.logg.WithPaymentID(ctx, paymentID)

	dedupeKey := event.DedupeKey()
	if s.guard != nil && dedupeKey != "" {
		seen, err := s.guard.CheckAndMark(ctx, dedupeKey)
		if err != nil {
			// Redis trouble must not drop a payment notification; proceed and
			// let the engine absorb any duplicate.
			s.logg.Warn(ctx, "webhook dedupe check failed; processing anyway")
		} else if seen {
			s.logg.Info(ctx, "duplicate webhook delivery ignored")
			return &Outcome{Duplicate: true, ProviderPaymentID: paymentID}, nil
		}
	}

	result, err := s.syncer.SyncByProviderPaymentID(ctx, paymentID, enums.ReconcileSourceWebhook)
	if err != nil {
		if s.guard != nil && dedupeKey != "" {
			if delErr := s.guard.Delete(ctx, dedupeKey); delErr != nil {
				s.logg.Warn(ctx, "failed to clear webhook dedupe mark")
			}
		}
		return nil, err
	}

	return &Outcome{
		Applied:           result.Applied,
		ProviderPaymentID: paymentID,
		Transaction:       result.Transaction,
	}, nil
}

// isPaymentTopic accepts the body's type field or the legacy query-string
// topic, whichever is present.
func (s *Service) isPaymentTopic(event *Event, query map[string]string) bool {
	if event.Type != "" {
		return event.IsPayment()
	}
	if topic := query["type"]; topic != "" {
		return topic == EventTypePayment
	}
	if topic := query["topic"]; topic != "" {
		return topic == EventTypePayment
	}
	// No topic anywhere; treat a bare data.id as a payment ping.
	return event.PaymentID(query) != ""
}
