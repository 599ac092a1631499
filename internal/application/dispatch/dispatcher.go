package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecothreads-notify/internal/application/push"
	"github.com/ecothreads-notify/internal/domain"
	"github.com/ecothreads-notify/internal/pkg/detach"
)

const (
	defaultSound = "default"
	clickAction  = "FLUTTER_NOTIFICATION_CLICK"
)

type recordStore interface {
	MarkSent(ctx context.Context, notificationID, dedupeID, messageID string, at time.Time) error
	MarkFailed(ctx context.Context, notificationID, dedupeID, reason string) error
}

// Result is what a dispatch left the record as.
type Result struct {
	Outcome   domain.Outcome
	MessageID string
	Reason    string
}

// Dispatcher sends one notification through the push gateway and persists the
// outcome. It never retries: a failed send is recorded and reported.
type Dispatcher struct {
	store   recordStore
	gateway push.Gateway
	now     func() time.Time
}

func NewDispatcher(store recordStore, gateway push.Gateway) *Dispatcher {
	return &Dispatcher{store: store, gateway: gateway, now: time.Now}
}

// BuildMessage renders the outbound push for n. The data envelope lets the
// client correlate and de-duplicate on device.
func BuildMessage(n *domain.Notification, dedupeID string) push.Message {
	ch := push.ChannelFor(n.Type)
	opts := push.Options{
		ChannelID:   ch.ID,
		Priority:    ch.Priority,
		Sound:       defaultSound,
		ClickAction: clickAction,
	}
	if ch.Collapsible {
		opts.CollapseKey = dedupeID
	}
	return push.Message{
		Title: n.Title,
		Body:  n.Message,
		Data: map[string]string{
			"type":           string(n.Type),
			"itemId":         n.ItemID,
			"dedupeId":       dedupeID,
			"notificationId": n.NotificationID,
		},
		Options: opts,
	}
}

// Dispatch sends n to target and writes the terminal state. The returned error
// is non-nil only when the terminal write itself failed. The write does not
// follow ctx cancellation: a send cut short by ctx is still recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, n *domain.Notification, target domain.DeviceAddress, dedupeID string) (Result, error) {
	messageID, sendErr := d.send(ctx, target, BuildMessage(n, dedupeID))

	wctx, cancel := detach.Write(ctx)
	defer cancel()
	if sendErr != nil {
		slog.Warn("push send failed", "notification_id", n.NotificationID, "type", n.Type, "err", sendErr)
		reason := sendErr.Error()
		if err := d.store.MarkFailed(wctx, n.NotificationID, dedupeID, reason); err != nil {
			return Result{Outcome: domain.OutcomeFailed, Reason: reason}, fmt.Errorf("record failure: %w", err)
		}
		return Result{Outcome: domain.OutcomeFailed, Reason: reason}, nil
	}

	if err := d.store.MarkSent(wctx, n.NotificationID, dedupeID, messageID, d.now()); err != nil {
		return Result{Outcome: domain.OutcomeSent, MessageID: messageID}, fmt.Errorf("record delivery: %w", err)
	}
	slog.Info("push sent", "notification_id", n.NotificationID, "type", n.Type, "message_id", messageID)
	return Result{Outcome: domain.OutcomeSent, MessageID: messageID}, nil
}

// send converts a gateway panic into an error so the record still resolves.
func (d *Dispatcher) send(ctx context.Context, target domain.DeviceAddress, msg push.Message) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("push gateway panic: %v", r)
		}
	}()
	return d.gateway.Send(ctx, target, msg)
}
