package enums

// ReconcileSource names the trigger that drove a status transition attempt.
type ReconcileSource string

const (
	ReconcileSourceWebhook ReconcileSource = "webhook"
	ReconcileSourcePoll    ReconcileSource = "poll"
	ReconcileSourceSweep   ReconcileSource = "sweep"
)
