package reconcile

import (
	"strings"

	"github.com/brunopacheco/pixgate-backend/pkg/enums"
)

// MapProviderStatus translates Mercado Pago's status vocabulary into the
// internal enum. The mapping is total: anything unrecognized maps to pending,
// never to a terminal status. A transient or unfamiliar provider code can
// only delay convergence, not freeze a transaction in a wrong final state.
func MapProviderStatus(providerStatus string) enums.TransactionStatus {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "approved":
		return enums.TransactionStatusPaid
	case "pending", "in_process":
		return enums.TransactionStatusPending
	case "cancelled":
		return enums.TransactionStatusCancelled
	case "rejected":
		return enums.TransactionStatusFailed
	case "refunded", "charged_back":
		return enums.TransactionStatusCancelled
	default:
		return enums.TransactionStatusPending
	}
}
