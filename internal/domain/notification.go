package domain

import (
	"fmt"
	"time"
)

// NotificationType is the closed set of notification kinds.
type NotificationType string

const (
	TypeNewDonation         NotificationType = "new_donation"
	TypeShippedFollowup     NotificationType = "shipped_followup"
	TypeSubscriberMilestone NotificationType = "subscriber_milestone"
	TypeNewMessage          NotificationType = "new_message"
)

// NoItem stands in for an absent item id so the dedupe tuple stays well-defined.
const NoItem = "-"

// Variant describes the per-type rules of a notification.
type Variant struct {
	ItemRequired bool
	Window       time.Duration
}

var variants = map[NotificationType]Variant{
	TypeNewDonation:         {ItemRequired: true, Window: 5 * time.Minute},
	TypeNewMessage:          {ItemRequired: true, Window: 5 * time.Minute},
	TypeShippedFollowup:     {ItemRequired: true, Window: 24 * time.Hour},
	TypeSubscriberMilestone: {ItemRequired: false, Window: 24 * time.Hour},
}

// VariantOf returns the rules for t and whether t is a known type.
func VariantOf(t NotificationType) (Variant, bool) {
	v, ok := variants[t]
	return v, ok
}

// Notification is one notification intent and its delivery state.
// NotificationSent is tri-state: nil while pending, true once delivered,
// false when failed or suppressed.
type Notification struct {
	NotificationID   string           `json:"id" dynamodbav:"notification_id"`
	UserID           string           `json:"user_id" dynamodbav:"user_id" validate:"required"`
	Type             NotificationType `json:"type" dynamodbav:"type" validate:"required"`
	ItemID           string           `json:"item_id,omitempty" dynamodbav:"item_id,omitempty"`
	Title            string           `json:"title" dynamodbav:"title" validate:"required"`
	Message          string           `json:"message" dynamodbav:"message" validate:"required"`
	NotificationSent *bool            `json:"notification_sent,omitempty" dynamodbav:"notification_sent,omitempty"`
	Duplicate        bool             `json:"duplicate" dynamodbav:"duplicate"`
	Error            string           `json:"error,omitempty" dynamodbav:"error,omitempty"`
	DedupeID         string           `json:"dedupe_id,omitempty" dynamodbav:"dedupe_id,omitempty"`
	MessageID        string           `json:"message_id,omitempty" dynamodbav:"message_id,omitempty"`
	SentAt           *time.Time       `json:"sent_at,omitempty" dynamodbav:"sent_at,omitempty"`
	CreatedAt        time.Time        `json:"created" dynamodbav:"created_at"`
	UpdatedAt        time.Time        `json:"updated" dynamodbav:"updated_at"`
}

// Pending reports whether the record has not reached a terminal state yet.
func (n *Notification) Pending() bool { return n.NotificationSent == nil }

// Sent reports whether the record was delivered.
func (n *Notification) Sent() bool { return n.NotificationSent != nil && *n.NotificationSent }

// ItemKey returns the item id, or NoItem when the record has none.
func (n *Notification) ItemKey() string {
	if n.ItemID == "" {
		return NoItem
	}
	return n.ItemID
}

// CheckVariant enforces the type-specific rules that struct tags cannot express.
func (n *Notification) CheckVariant() error {
	v, ok := VariantOf(n.Type)
	if !ok {
		return fmt.Errorf("unknown notification type %q: %w", n.Type, ErrBadRequest)
	}
	if v.ItemRequired && n.ItemID == "" {
		return fmt.Errorf("item_id is required for %s: %w", n.Type, ErrBadRequest)
	}
	return nil
}

// NotificationInput is the payload for direct notification creation.
type NotificationInput struct {
	UserID  string           `json:"user_id" validate:"required"`
	Type    NotificationType `json:"type" validate:"required"`
	ItemID  string           `json:"item_id"`
	Title   string           `json:"title" validate:"required"`
	Message string           `json:"message" validate:"required"`
}

// Outcome is the terminal state a pipeline pass left a record in.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeSkipped means nothing was written: the record was already terminal
	// or the candidate was malformed and never persisted.
	OutcomeSkipped Outcome = "skipped"
)

// DonationEvent announces a new donation listed by DonorID.
type DonationEvent struct {
	DonorID    string `json:"donor_id" validate:"required"`
	DonationID string `json:"donation_id" validate:"required"`
	DonorName  string `json:"donor_name" validate:"required"`
	ItemTitle  string `json:"item_title" validate:"required"`
}
