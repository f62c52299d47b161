package webhooks

import (
	"context"
	"net/http"

	"github.com/brunopacheco/pixgate-backend/api/responses"
	mpwebhook "github.com/brunopacheco/pixgate-backend/internal/webhooks/mercadopago"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
	"github.com/brunopacheco/pixgate-backend/pkg/types"
)

const (
	signatureHeader = "x-signature"
	requestIDHeader = "x-request-id"
)

// MercadoPagoService is the processing surface behind the receiver.
type MercadoPagoService interface {
	HandleEvent(ctx context.Context, event *mpwebhook.Event, query map[string]string) (*mpwebhook.Outcome, error)
}

// SignatureVerifier authenticates inbound notifications.
type SignatureVerifier interface {
	Verify(signatureHeader, requestID, dataID string) bool
}

// MercadoPago receives provider payment notifications. Unauthenticated calls
// get 401; everything after a passing signature answers 200, including
// internal processing failures, so the provider does not amplify our own
// errors into a retry storm. Recovery for those failures is the poller and
// the reconcile sweep.
func MercadoPago(svc MercadoPagoService, verifier SignatureVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook receiver unavailable"))
			return
		}

		// The signed manifest needs data.id, so the body is read before the
		// signature check, but a parse failure still authenticates first:
		// unauthenticated garbage gets 401, not a body diagnosis.
		event, parseErr := mpwebhook.ParseEvent(r.Body)

		query := mpwebhook.QueryParams(r)
		dataID := event.PaymentID(query)

		if !verifier.Verify(r.Header.Get(signatureHeader), r.Header.Get(requestIDHeader), dataID) {
			logg.Warn(logg.WithPaymentID(ctx, dataID), "webhook signature verification failed")
			responses.WriteJSON(w, http.StatusUnauthorized, types.WebhookError{Error: "invalid signature"})
			return
		}

		if parseErr != nil {
			responses.WriteJSON(w, http.StatusBadRequest, types.WebhookError{Error: "malformed webhook payload"})
			return
		}

		outcome, err := svc.HandleEvent(ctx, event, query)
		if err != nil {
			// Authenticated deliveries are always acknowledged; the failure
			// is logged and recovered by the next poll or sweep.
			logg.Error(logg.WithPaymentID(ctx, dataID), "webhook processing failed", err)
			responses.WriteJSON(w, http.StatusOK, types.WebhookAck{
				Message:   "received",
				PaymentID: dataID,
			})
			return
		}

		ack := types.WebhookAck{Message: "processed", PaymentID: outcome.ProviderPaymentID}
		switch {
		case outcome.Skipped:
			ack.Message = "ignored"
		case outcome.Duplicate:
			ack.Message = "already processed"
		case outcome.Transaction != nil:
			ack.Status = string(outcome.Transaction.Status)
		}
		responses.WriteJSON(w, http.StatusOK, ack)
	}
}
