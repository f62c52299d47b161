package payments

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brunopacheco/pixgate-backend/internal/transactions"
	"github.com/brunopacheco/pixgate-backend/pkg/config"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
	"github.com/brunopacheco/pixgate-backend/pkg/mercadopago"
)

// Provider is the slice of the Mercado Pago client the creator needs.
type Provider interface {
	CreatePayment(ctx context.Context, params mercadopago.PaymentCreateParams) (*mercadopago.Payment, error)
	NewIdempotencyKey(prefix string) string
}

// CreateParams describes a payment intent request after transport decoding.
type CreateParams struct {
	PlanType  string
	IsVip     bool
	UserEmail string
}

// Intent is the outcome of a successful payment intent creation: the stored
// pending transaction plus the provider artifacts the client needs to pay.
type Intent struct {
	Transaction       *models.Transaction
	ProviderPaymentID string
	PixCode           string
	PixQRCodeBase64   string
}

// CreatorParams configures a Creator.
type CreatorParams struct {
	Repo     transactions.Repository
	Provider Provider
	Pix      config.PixConfig
	Logger   *logger.Logger
}

// Creator opens PIX payment intents: it prices the plan server-side, opens
// the charge with the provider, and persists the pending transaction the
// reconciliation engine will later converge.
type Creator struct {
	repo     transactions.Repository
	provider Provider
	pix      config.PixConfig
	logg     *logger.Logger
	now      func() time.Time
	newID    func() string
}

// NewCreator wires the creator's dependencies.
func NewCreator(params CreatorParams) (*Creator, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment provider required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Pix.Expiry <= 0 {
		params.Pix.Expiry = 30 * time.Minute
	}
	return &Creator{
		repo:     params.Repo,
		provider: params.Provider,
		pix:      params.Pix,
		logg:     params.Logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Create opens a PIX payment intent. The generated transaction id travels to
// the provider as the external reference, so webhook deliveries can correlate
// back even before the provider payment id is stored.
func (c *Creator) Create(ctx context.Context, params CreateParams) (*Intent, error) {
	plan, email, err := c.validate(params)
	if err != nil {
		return nil, err
	}

	amountCents, err := PriceFor(plan, params.IsVip)
	if err != nil {
		return nil, err
	}

	transactionID := c.newID()
	expiresAt := c.now().Add(c.pix.Expiry)

	ctx = c.logg.WithTransactionID(ctx, transactionID)

	payment, err := c.provider.CreatePayment(ctx, mercadopago.PaymentCreateParams{
		AmountCents:       amountCents,
		Description:       description(plan, params.IsVip),
		PayerEmail:        email,
		ExternalReference: transactionID,
		ExpiresAt:         expiresAt,
		IdempotencyKey:    c.provider.NewIdempotencyKey("pix-create"),
	})
	if err != nil {
		return nil, err
	}

	providerPaymentID := payment.PaymentID()
	pixCode := payment.PointOfInteraction.TransactionData.QRCode
	pixQRCodeBase64 := payment.PointOfInteraction.TransactionData.QRCodeBase64

	txn := &models.Transaction{
		ID:                transactionID,
		ProviderPaymentID: &providerPaymentID,
		Status:            enums.TransactionStatusPending,
		AmountCents:       amountCents,
		PlanType:          plan,
		IsVip:             params.IsVip,
		UserEmail:         email,
		ExpiresAt:         expiresAt,
	}
	// QR artifacts stay absent until the provider actually returned them; a
	// later poll picks them up rather than storing empty strings.
	if pixCode != "" {
		txn.PixCode = &pixCode
	}
	if pixQRCodeBase64 != "" {
		txn.PixQRCodeBase64 = &pixQRCodeBase64
	}

	if err := c.repo.Create(ctx, txn); err != nil {
		// The provider charge exists but we have no record of it. Surface the
		// provider id so the orphan can be voided or replayed by hand.
		c.logg.Error(c.logg.WithPaymentID(ctx, providerPaymentID), "payment intent opened upstream but local persist failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist payment intent").
			WithDetails(map[string]string{"provider_payment_id": providerPaymentID})
	}

	c.logg.Info(c.logg.WithPaymentID(ctx, providerPaymentID), "payment intent created")

	return &Intent{
		Transaction:       txn,
		ProviderPaymentID: providerPaymentID,
		PixCode:           pixCode,
		PixQRCodeBase64:   pixQRCodeBase64,
	}, nil
}

func (c *Creator) validate(params CreateParams) (enums.PlanType, string, error) {
	plan, err := enums.ParsePlanType(strings.TrimSpace(params.PlanType))
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan type").
			WithDetails(map[string]string{"plan_type": params.PlanType})
	}

	email := strings.TrimSpace(params.UserEmail)
	if email == "" {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "user email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user email")
	}

	return plan, email, nil
}

func description(plan enums.PlanType, isVip bool) string {
	tier := "standard"
	if isVip {
		tier = "vip"
	}
	return fmt.Sprintf("pixgate %s plan (%s)", plan, tier)
}
