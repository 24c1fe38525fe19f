package constants

// Static route constants
const (
	DownloadRoute      = "/dl"
	DownloadGrantRoute = "/dl/grant"
	WebhookRoute       = "/webhooks/payment"
)
