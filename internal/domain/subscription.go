package domain

import "time"

// Subscription links a subscriber to a donor whose new donations they follow.
// PK: donor_id, SK: subscriber_id.
type Subscription struct {
	DonorID      string    `json:"donor_id" dynamodbav:"donor_id" validate:"required"`
	SubscriberID string    `json:"subscriber_id" dynamodbav:"subscriber_id" validate:"required,nefield=DonorID"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
}
