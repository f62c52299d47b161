package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
)

// PaymentCreateParams describes a PIX payment intent to open with the provider.
type PaymentCreateParams struct {
	AmountCents       int
	Description       string
	PayerEmail        string
	ExternalReference string
	ExpiresAt         time.Time
	IdempotencyKey    string
}

// Payment is the subset of the provider's payment resource this system reads.
type Payment struct {
	ID                int64  `json:"id"`
	Status            string `json:"status"`
	StatusDetail      string `json:"status_detail"`
	ExternalReference string `json:"external_reference"`
	DateOfExpiration  string `json:"date_of_expiration"`

	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// PaymentID renders the provider's numeric id as the string used for
// correlation everywhere else in the system.
func (p *Payment) PaymentID() string {
	return fmt.Sprintf("%d", p.ID)
}

type paymentCreateRequest struct {
	TransactionAmount float64      `json:"transaction_amount"`
	Description       string       `json:"description,omitempty"`
	PaymentMethodID   string       `json:"payment_method_id"`
	Payer             paymentPayer `json:"payer"`
	ExternalReference string       `json:"external_reference"`
	DateOfExpiration  string       `json:"date_of_expiration"`
	NotificationURL   string       `json:"notification_url,omitempty"`
}

type paymentPayer struct {
	Email string `json:"email"`
}

// CreatePayment opens a PIX payment intent. Amounts are carried internally in
// centavos and converted to the provider's decimal BRL representation here.
func (c *Client) CreatePayment(ctx context.Context, params PaymentCreateParams) (*Payment, error) {
	amount := decimal.NewFromInt(int64(params.AmountCents)).Div(decimal.NewFromInt(100))

	body := paymentCreateRequest{
		TransactionAmount: amount.InexactFloat64(),
		Description:       params.Description,
		PaymentMethodID:   "pix",
		Payer:             paymentPayer{Email: params.PayerEmail},
		ExternalReference: params.ExternalReference,
		DateOfExpiration:  params.ExpiresAt.UTC().Format("2006-01-02T15:04:05.000-07:00"),
		NotificationURL:   c.notificationURL,
	}

	c.log(ctx, "request", "create_payment", map[string]any{
		"external_reference": params.ExternalReference,
		"amount_cents":       params.AmountCents,
	})

	payment, err := c.doPayment(ctx, http.MethodPost, "/v1/payments", body, params.IdempotencyKey)
	if err != nil {
		c.log(ctx, "error", "create_payment", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "create_payment", map[string]any{
		"payment_id": payment.PaymentID(),
		"status":     payment.Status,
	})
	return payment, nil
}

// GetPayment fetches the authoritative state of a payment by provider id.
// Webhook payloads are only triggers; this call is the status source of truth.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	c.log(ctx, "request", "get_payment", map[string]any{"payment_id": paymentID})

	payment, err := c.doPayment(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, "")
	if err != nil {
		c.log(ctx, "error", "get_payment", map[string]any{"payment_id": paymentID, "error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "get_payment", map[string]any{
		"payment_id": payment.PaymentID(),
		"status":     payment.Status,
	})
	return payment, nil
}

func (c *Client) doPayment(ctx context.Context, method, path string, body any, idempotencyKey string) (*Payment, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payment request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build payment request")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "call mercado pago")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read mercado pago response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mapAPIError(resp.StatusCode, payload)
	}

	var payment Payment
	if err := json.Unmarshal(payload, &payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode mercado pago response")
	}
	return &payment, nil
}

type apiErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

func mapAPIError(status int, payload []byte) error {
	var body apiErrorBody
	_ = json.Unmarshal(payload, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = "mercado pago request failed"
	}

	if status == http.StatusNotFound {
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	}
	if status >= 400 && status < 500 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("mercado pago rejected request (%d): %s", status, msg))
	}
	return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("mercado pago unavailable (%d): %s", status, msg))
}
