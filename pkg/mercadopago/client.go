package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/brunopacheco/pixgate-backend/pkg/config"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
)

const defaultBaseURL = "https://api.mercadopago.com"

var (
	errAccessTokenRequired = errors.New("mercado pago access token is required")
	errLoggerRequired      = errors.New("mercado pago logger is required")
)

// Client wraps Mercado Pago's REST API with centralized auth, timeouts,
// logging, and error mapping.
type Client struct {
	httpClient      *http.Client
	accessToken     string
	baseURL         string
	webhookSecret   string
	notificationURL string
	logger          *logger.Logger
}

// NewClient initializes the Mercado Pago wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.MercadoPagoConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	c := &Client{
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		accessToken:     accessToken,
		baseURL:         baseURL,
		webhookSecret:   strings.TrimSpace(cfg.WebhookSecret),
		notificationURL: strings.TrimSpace(cfg.NotificationURL),
		logger:          logg,
	}

	logg.Info(ctx, "mercado pago client initialized")
	return c, nil
}

// SigningSecret returns the webhook shared secret. Empty means signature
// verification runs permissively (non-production only, enforced by config).
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// BaseURL reports the API root the client talks to.
func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

// NewIdempotencyKey returns a unique key for payment creation calls.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "pixgate"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

func (c *Client) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	merged := map[string]any{"provider": "mercadopago", "phase": phase, "operation": operation}
	for k, v := range fields {
		merged[k] = v
	}
	c.logger.Info(c.logger.WithFields(ctx, merged), "mercadopago."+operation)
}
