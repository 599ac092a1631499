package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecothreads-notify/internal/application/dedupe"
	"github.com/ecothreads-notify/internal/application/dispatch"
	"github.com/ecothreads-notify/internal/domain"
	"github.com/ecothreads-notify/internal/pkg/detach"
	"github.com/ecothreads-notify/internal/pkg/metrics"
)

// Service runs one notification record through dedupe, target resolution and
// delivery. Every pass leaves a pending record terminal.
type Service interface {
	Process(ctx context.Context, n *domain.Notification) (Result, error)
	ProcessID(ctx context.Context, notificationID string) (Result, error)
}

// Result reports how a pass ended for one record.
type Result struct {
	NotificationID string         `json:"id"`
	Outcome        domain.Outcome `json:"outcome"`
	DedupeID       string         `json:"dedupe_id,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

type recordStore interface {
	Get(ctx context.Context, notificationID string) (*domain.Notification, error)
	ListSentSince(ctx context.Context, userID string, t domain.NotificationType, itemKey string, since time.Time) ([]domain.Notification, error)
	MarkSuppressed(ctx context.Context, notificationID, dedupeID string) error
	MarkFailed(ctx context.Context, notificationID, dedupeID, reason string) error
}

type claimStore interface {
	Claim(ctx context.Context, c *domain.DedupeClaim, now time.Time) error
	Release(ctx context.Context, dedupeID, notificationID string) error
}

type targetResolver interface {
	Resolve(ctx context.Context, userID string) (domain.DeviceAddress, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, n *domain.Notification, target domain.DeviceAddress, dedupeID string) (dispatch.Result, error)
}

// ServiceDeps groups the collaborators of the pipeline.
type ServiceDeps struct {
	Records    recordStore
	Claims     claimStore
	Resolver   targetResolver
	Dispatcher dispatcher
	Metrics    *metrics.Metrics
}

type service struct {
	records    recordStore
	claims     claimStore
	resolver   targetResolver
	dispatcher dispatcher
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(deps ServiceDeps) Service {
	return &service{
		records:    deps.Records,
		claims:     deps.Claims,
		resolver:   deps.Resolver,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
}

func (s *service) ProcessID(ctx context.Context, notificationID string) (Result, error) {
	n, err := s.records.Get(ctx, notificationID)
	if err != nil {
		return Result{}, err
	}
	return s.Process(ctx, n)
}

func (s *service) Process(ctx context.Context, n *domain.Notification) (Result, error) {
	res, err := s.process(ctx, n)
	res.NotificationID = n.NotificationID
	s.metrics.Outcome(n.Type, res.Outcome)
	return res, err
}

func (s *service) process(ctx context.Context, n *domain.Notification) (Result, error) {
	if !n.Pending() {
		return Result{Outcome: domain.OutcomeSkipped, DedupeID: n.DedupeID}, nil
	}
	if err := n.CheckVariant(); err != nil {
		return s.fail(ctx, n, "", fmt.Sprintf("malformed notification: %v", err))
	}

	now := s.now()
	window := dedupe.Window(n.Type)
	// created_at is stored as RFC3339Nano text; the extra second absorbs
	// lexical ordering skew. Evaluate re-checks the exact window.
	recent, err := s.records.ListSentSince(ctx, n.UserID, n.Type, n.ItemKey(), now.Add(-window-time.Second))
	if err != nil {
		return s.fail(ctx, n, "", fmt.Sprintf("dedupe lookup: %v", err))
	}

	decision := dedupe.Evaluate(n, recent, now)
	switch decision.Verdict {
	case dedupe.Skip:
		return Result{Outcome: domain.OutcomeSkipped, DedupeID: decision.DedupeID}, nil
	case dedupe.Suppress:
		return s.suppress(ctx, n, decision.DedupeID)
	}

	claim := &domain.DedupeClaim{
		DedupeID:       decision.DedupeID,
		NotificationID: n.NotificationID,
		ExpiresAt:      now.Add(2 * window).Unix(),
	}
	if err := s.claims.Claim(ctx, claim, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.suppress(ctx, n, decision.DedupeID)
		}
		return s.fail(ctx, n, decision.DedupeID, fmt.Sprintf("claim dedupe key: %v", err))
	}

	target, err := s.resolver.Resolve(ctx, n.UserID)
	if err != nil {
		s.release(ctx, decision.DedupeID, n.NotificationID)
		reason := fmt.Sprintf("resolve target: %v", err)
		if errors.Is(err, domain.ErrNoTarget) {
			reason = "no push target"
		}
		return s.fail(ctx, n, decision.DedupeID, reason)
	}

	out, err := s.dispatcher.Dispatch(ctx, n, target, decision.DedupeID)
	if out.Outcome == domain.OutcomeFailed {
		s.release(ctx, decision.DedupeID, n.NotificationID)
	}
	res := Result{Outcome: out.Outcome, DedupeID: decision.DedupeID, MessageID: out.MessageID, Reason: out.Reason}
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			return Result{Outcome: domain.OutcomeSkipped, DedupeID: decision.DedupeID}, nil
		}
		slog.Error("could not persist delivery outcome", "notification_id", n.NotificationID, "outcome", out.Outcome, "err", err)
		return res, err
	}
	return res, nil
}

// suppress, fail and release write on a detached context so a cancelled
// caller still leaves the record resolved.
func (s *service) suppress(ctx context.Context, n *domain.Notification, dedupeID string) (Result, error) {
	wctx, cancel := detach.Write(ctx)
	defer cancel()
	if err := s.records.MarkSuppressed(wctx, n.NotificationID, dedupeID); err != nil {
		return s.lostWrite(n, dedupeID, err)
	}
	slog.Info("notification suppressed as duplicate", "notification_id", n.NotificationID, "type", n.Type, "dedupe_id", dedupeID)
	return Result{Outcome: domain.OutcomeSuppressed, DedupeID: dedupeID}, nil
}

func (s *service) fail(ctx context.Context, n *domain.Notification, dedupeID, reason string) (Result, error) {
	wctx, cancel := detach.Write(ctx)
	defer cancel()
	if err := s.records.MarkFailed(wctx, n.NotificationID, dedupeID, reason); err != nil {
		return s.lostWrite(n, dedupeID, err)
	}
	slog.Warn("notification failed", "notification_id", n.NotificationID, "type", n.Type, "reason", reason)
	return Result{Outcome: domain.OutcomeFailed, DedupeID: dedupeID, Reason: reason}, nil
}

// lostWrite handles a terminal write that did not land. Losing to a concurrent
// resolver is fine; anything else leaves the record pending and is surfaced.
func (s *service) lostWrite(n *domain.Notification, dedupeID string, err error) (Result, error) {
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		return Result{Outcome: domain.OutcomeSkipped, DedupeID: dedupeID}, nil
	}
	slog.Error("could not resolve notification", "notification_id", n.NotificationID, "err", err)
	return Result{Outcome: domain.OutcomeFailed, DedupeID: dedupeID, Reason: err.Error()}, fmt.Errorf("resolve notification %s: %w", n.NotificationID, err)
}

func (s *service) release(ctx context.Context, dedupeID, notificationID string) {
	wctx, cancel := detach.Write(ctx)
	defer cancel()
	if err := s.claims.Release(wctx, dedupeID, notificationID); err != nil {
		slog.Warn("could not release dedupe claim", "dedupe_id", dedupeID, "notification_id", notificationID, "err", err)
	}
}
