package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mpwebhook "github.com/brunopacheco/pixgate-backend/internal/webhooks/mercadopago"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
	"github.com/brunopacheco/pixgate-backend/pkg/mercadopago"
	"github.com/brunopacheco/pixgate-backend/pkg/types"
)

const testSecret = "whsec_test"

type fakeService struct {
	outcome *mpwebhook.Outcome
	err     error
	calls   int
}

func (f *fakeService) HandleEvent(_ context.Context, _ *mpwebhook.Event, _ map[string]string) (*mpwebhook.Outcome, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func signedRequest(t *testing.T, dataID string) *http.Request {
	t.Helper()
	body := fmt.Sprintf(`{"id":1,"type":"payment","action":"payment.updated","data":{"id":"%s"}}`, dataID)
	req := httptest.NewRequest(http.MethodPost, "/pix/webhook", strings.NewReader(body))

	requestID := "req-1"
	ts := "1700000000"
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(manifest))

	req.Header.Set("x-request-id", requestID)
	req.Header.Set("x-signature", fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return req
}

func newHandler(svc MercadoPagoService) http.HandlerFunc {
	verifier := mercadopago.NewSignatureVerifier(testSecret, false)
	return MercadoPago(svc, verifier, logger.New(logger.Options{ServiceName: "test"}))
}

func TestWebhookProcessesSignedDelivery(t *testing.T) {
	svc := &fakeService{outcome: &mpwebhook.Outcome{
		Applied:           true,
		ProviderPaymentID: "555",
		Transaction:       &models.Transaction{ID: "txn-1", Status: enums.TransactionStatusPaid},
	}}

	rec := httptest.NewRecorder()
	newHandler(svc)(rec, signedRequest(t, "555"))

	require.Equal(t, http.StatusOK, rec.Code)
	var ack types.WebhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "processed", ack.Message)
	assert.Equal(t, "555", ack.PaymentID)
	assert.Equal(t, "paid", ack.Status)
	assert.Equal(t, 1, svc.calls)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeService{}

	req := httptest.NewRequest(http.MethodPost, "/pix/webhook",
		strings.NewReader(`{"type":"payment","data":{"id":"555"}}`))
	req.Header.Set("x-signature", "ts=1700000000,v1=deadbeef")
	req.Header.Set("x-request-id", "req-1")

	rec := httptest.NewRecorder()
	newHandler(svc)(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body types.WebhookError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid signature", body.Error)
	assert.Zero(t, svc.calls)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	svc := &fakeService{}

	req := httptest.NewRequest(http.MethodPost, "/pix/webhook",
		strings.NewReader(`{"type":"payment","data":{"id":"555"}}`))
	rec := httptest.NewRecorder()
	newHandler(svc)(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestWebhookAcksProcessingFailure(t *testing.T) {
	// After authentication the provider always gets 200; recovery happens via
	// polling and the sweep, not provider retries.
	svc := &fakeService{err: pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")}

	rec := httptest.NewRecorder()
	newHandler(svc)(rec, signedRequest(t, "555"))

	require.Equal(t, http.StatusOK, rec.Code)
	var ack types.WebhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "received", ack.Message)
	assert.Equal(t, "555", ack.PaymentID)
}

func TestWebhookAcksNonPaymentTopic(t *testing.T) {
	svc := &fakeService{outcome: &mpwebhook.Outcome{Skipped: true}}

	rec := httptest.NewRecorder()
	newHandler(svc)(rec, signedRequest(t, "123"))

	require.Equal(t, http.StatusOK, rec.Code)
	var ack types.WebhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "ignored", ack.Message)
}

// A malformed body from an unauthenticated caller is a signature failure,
// not a body diagnosis: verification decides first.
func TestWebhookUnauthenticatedMalformedBodyGets401(t *testing.T) {
	svc := &fakeService{}

	req := httptest.NewRequest(http.MethodPost, "/pix/webhook", strings.NewReader(`{notjson`))
	rec := httptest.NewRecorder()
	newHandler(svc)(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestWebhookRejectsMalformedBodyAfterAuthentication(t *testing.T) {
	svc := &fakeService{}

	// data.id travels in the query string, so the manifest still signs.
	req := httptest.NewRequest(http.MethodPost, "/pix/webhook?data.id=555", strings.NewReader(`{notjson`))
	requestID := "req-1"
	ts := "1700000000"
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", "555", requestID, ts)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(manifest))
	req.Header.Set("x-request-id", requestID)
	req.Header.Set("x-signature", fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))

	rec := httptest.NewRecorder()
	newHandler(svc)(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body types.WebhookError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "malformed webhook payload", body.Error)
	assert.Zero(t, svc.calls)
}
