package types

// APIError is the public error body returned by client-facing endpoints.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps APIError for client-facing failures.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// WebhookAck is returned to the provider for every authenticated, recognized
// event, including ones whose internal processing failed.
type WebhookAck struct {
	Message   string `json:"message"`
	PaymentID string `json:"payment_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// WebhookError is the body for rejected (unauthenticated) webhook calls.
type WebhookError struct {
	Error string `json:"error"`
}

// TransactionStatusResponse is the client-facing view of a transaction.
type TransactionStatusResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        int    `json:"amount"`
	PlanType      string `json:"plan_type"`
	IsVip         bool   `json:"is_vip"`
	CreatedAt     string `json:"created_at"`
	ExpiresAt     string `json:"expires_at"`
	UpdatedAt     string `json:"updated_at"`
}

// PreferenceResponse is returned after a payment intent is created upstream
// and persisted locally.
type PreferenceResponse struct {
	Success       bool   `json:"success"`
	PreferenceID  string `json:"preference_id"`
	QRCode        string `json:"qr_code"`
	QRCodeBase64  string `json:"qr_code_base64"`
	TransactionID string `json:"transaction_id"`
	Amount        int    `json:"amount"`
	ExpiresAt     string `json:"expires_at"`
}
