// Package push holds the gateway-neutral push message model and the
// per-type delivery channel rules.
package push

import (
	"context"

	"github.com/ecothreads-notify/internal/domain"
)

// Priority is the platform delivery priority.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Options carries platform-specific delivery settings.
type Options struct {
	ChannelID   string
	Priority    Priority
	Sound       string
	ClickAction string
	// CollapseKey lets the platform coalesce queued pushes. Empty when the
	// channel does not support collapsible delivery.
	CollapseKey string
}

// Message is one outbound push.
type Message struct {
	Title   string
	Body    string
	Data    map[string]string
	Options Options
}

// Gateway delivers a push to a resolved device address and returns the
// gateway's message id.
type Gateway interface {
	Send(ctx context.Context, target domain.DeviceAddress, msg Message) (string, error)
}

// Channel describes how a notification type is delivered.
type Channel struct {
	ID          string
	Priority    Priority
	Collapsible bool
}

var (
	donationsChannel = Channel{ID: "donations", Priority: PriorityHigh, Collapsible: true}
	messagesChannel  = Channel{ID: "messages", Priority: PriorityHigh, Collapsible: true}
	requestsChannel  = Channel{ID: "requests", Priority: PriorityNormal}
)

// ChannelFor selects the delivery channel for t.
func ChannelFor(t domain.NotificationType) Channel {
	switch t {
	case domain.TypeNewDonation:
		return donationsChannel
	case domain.TypeNewMessage:
		return messagesChannel
	default:
		return requestsChannel
	}
}
