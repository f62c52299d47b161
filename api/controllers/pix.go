package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brunopacheco/pixgate-backend/api/responses"
	"github.com/brunopacheco/pixgate-backend/api/validators"
	"github.com/brunopacheco/pixgate-backend/internal/payments"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
	"github.com/brunopacheco/pixgate-backend/pkg/types"
)

// PreferenceCreator is the payment intent surface the PIX endpoints use.
type PreferenceCreator interface {
	Create(ctx context.Context, params payments.CreateParams) (*payments.Intent, error)
}

// StatusChecker reconciles one transaction against the provider before
// reporting it, so a client poll is a real trigger into the state machine
// rather than a bare store read.
type StatusChecker interface {
	CheckNow(ctx context.Context, transactionID string) (*models.Transaction, error)
}

type createPreferenceRequest struct {
	PlanType  string `json:"planType" validate:"required"`
	IsVip     bool   `json:"isVip"`
	UserEmail string `json:"userEmail" validate:"required,email"`
}

// CreatePreference opens a PIX payment intent and returns the provider's QR
// artifacts alongside the local transaction id.
func CreatePreference(creator PreferenceCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if creator == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment creator unavailable"))
			return
		}

		var body createPreferenceRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		intent, err := creator.Create(ctx, payments.CreateParams{
			PlanType:  body.PlanType,
			IsVip:     body.IsVip,
			UserEmail: body.UserEmail,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, types.PreferenceResponse{
			Success:       true,
			PreferenceID:  intent.ProviderPaymentID,
			QRCode:        intent.PixCode,
			QRCodeBase64:  intent.PixQRCodeBase64,
			TransactionID: intent.Transaction.ID,
			Amount:        intent.Transaction.AmountCents,
			ExpiresAt:     intent.Transaction.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// TransactionStatus reconciles and returns one transaction. Each poll runs
// the same provider re-check the webhook path uses, including the local
// expiry decision, before the stored view is rendered.
func TransactionStatus(checker StatusChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if checker == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction store unavailable"))
			return
		}

		transactionID := chi.URLParam(r, "transactionID")
		if transactionID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required"))
			return
		}

		txn, err := checker.CheckNow(ctx, transactionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, types.TransactionStatusResponse{
			TransactionID: txn.ID,
			Status:        string(txn.Status),
			Amount:        txn.AmountCents,
			PlanType:      string(txn.PlanType),
			IsVip:         txn.IsVip,
			CreatedAt:     txn.CreatedAt.UTC().Format(time.RFC3339),
			ExpiresAt:     txn.ExpiresAt.UTC().Format(time.RFC3339),
			UpdatedAt:     txn.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
}
