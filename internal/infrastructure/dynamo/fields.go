package dynamo

// DynamoDB attribute names used in update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldEnable           = "enable"
	fieldNotificationID   = "notification_id"
	fieldUpdatedAt        = "updated_at"
	fieldNotificationSent = "notification_sent"
	fieldDuplicate        = "duplicate"
	fieldError            = "error"
	fieldDedupeID         = "dedupe_id"
	fieldMessageID        = "message_id"
	fieldSentAt           = "sent_at"
	fieldFollowupSent     = "followup_sent"
)
