package models

import (
	"time"

	"github.com/brunopacheco/pixgate-backend/pkg/enums"
)

// Transaction is the flat payment record keyed by our own id. The id doubles
// as the provider-side external reference, which is how webhooks and polls
// correlate back to the record without a lookup table.
type Transaction struct {
	ID                string                  `gorm:"column:id;primaryKey"`
	ProviderPaymentID *string                 `gorm:"column:provider_payment_id;index"`
	Status            enums.TransactionStatus `gorm:"column:status;not null;default:'pending'"`
	AmountCents       int                     `gorm:"column:amount_cents;not null"`
	PlanType          enums.PlanType          `gorm:"column:plan_type;not null"`
	IsVip             bool                    `gorm:"column:is_vip;not null;default:false"`
	UserEmail         string                  `gorm:"column:user_email;not null"`
	PixCode           *string                 `gorm:"column:pix_code"`
	PixQRCodeBase64   *string                 `gorm:"column:pix_qr_code_base64"`
	RawProviderStatus *string                 `gorm:"column:raw_provider_status"`
	StatusDetail      *string                 `gorm:"column:status_detail"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
	ExpiresAt         time.Time               `gorm:"column:expires_at;not null"`
	PaidAt            *time.Time              `gorm:"column:paid_at"`
}

// IsTerminal reports whether the record reached a final status.
func (t *Transaction) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// RemainingUntilExpiry returns the time left before the PIX code lapses,
// clamped at zero.
func (t *Transaction) RemainingUntilExpiry(now time.Time) time.Duration {
	remaining := t.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
