package domain

// DedupeClaim reserves a dedupe key for one notification.
// ExpiresAt is a Unix timestamp used as DynamoDB TTL.
type DedupeClaim struct {
	DedupeID       string `json:"dedupe_id" dynamodbav:"dedupe_id"`
	NotificationID string `json:"notification_id" dynamodbav:"notification_id"`
	ExpiresAt      int64  `json:"expires_at" dynamodbav:"expires_at"`
}
