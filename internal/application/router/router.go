// Package router turns domain events into notification records and drives
// each one through the delivery pipeline.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecothreads-notify/internal/application/notification"
	"github.com/ecothreads-notify/internal/domain"
	"github.com/ecothreads-notify/internal/pkg/id"
	"github.com/ecothreads-notify/internal/pkg/metrics"
	"github.com/ecothreads-notify/internal/pkg/validate"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

const (
	triggerDonation  = "new_donation"
	triggerFollowup  = "shipped_followup"
	triggerMilestone = "subscriber_milestone"
	triggerDirect    = "direct"
)

// milestones are the subscriber counts a donor is congratulated on.
var milestones = map[int]bool{10: true, 25: true, 50: true, 100: true, 250: true, 500: true, 1000: true}

type Service interface {
	NewDonation(ctx context.Context, ev domain.DonationEvent) (*BatchResult, error)
	SweepShippedFollowups(ctx context.Context) (*BatchResult, error)
	SubscriberAdded(ctx context.Context, donorID, subscriberID string) (*notification.Result, error)
	Create(ctx context.Context, in domain.NotificationInput) (notification.Result, error)
	Replay(ctx context.Context, notificationID string) (notification.Result, error)
}

type recordStore interface {
	Put(ctx context.Context, n *domain.Notification) error
	BatchPut(ctx context.Context, ns []domain.Notification) (unwritten []string, err error)
}

type subscriptionStore interface {
	Put(ctx context.Context, s *domain.Subscription) error
	ListSubscribers(ctx context.Context, donorID string) ([]string, error)
	Count(ctx context.Context, donorID string) (int, error)
}

type itemStore interface {
	ListFollowupDue(ctx context.Context, soldBefore time.Time) ([]domain.Item, error)
	CommitFollowup(ctx context.Context, itemID string, n *domain.Notification) error
}

type ServiceDeps struct {
	Records       recordStore
	Subscriptions subscriptionStore
	Items         itemStore
	Pipeline      notification.Service
	Metrics       *metrics.Metrics
	// Concurrency bounds how many records of one batch are processed at once.
	Concurrency int
	// FollowupAfter is how long after a sale the buyer is asked to confirm receipt.
	FollowupAfter time.Duration
}

type service struct {
	records       recordStore
	subscriptions subscriptionStore
	items         itemStore
	pipeline      notification.Service
	metrics       *metrics.Metrics
	concurrency   int
	followupAfter time.Duration
	now           func() time.Time
}

func NewService(deps ServiceDeps) Service {
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &service{
		records:       deps.Records,
		subscriptions: deps.Subscriptions,
		items:         deps.Items,
		pipeline:      deps.Pipeline,
		metrics:       deps.Metrics,
		concurrency:   concurrency,
		followupAfter: deps.FollowupAfter,
		now:           time.Now,
	}
}

func (s *service) NewDonation(ctx context.Context, ev domain.DonationEvent) (*BatchResult, error) {
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}
	subscribers, err := s.subscriptions.ListSubscribers(ctx, ev.DonorID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers of %s: %w", ev.DonorID, err)
	}

	now := s.now().UTC()
	batch := &BatchResult{Trigger: triggerDonation}
	records := make([]domain.Notification, 0, len(subscribers))
	for _, userID := range subscribers {
		n := domain.Notification{
			NotificationID: id.New(),
			UserID:         userID,
			Type:           domain.TypeNewDonation,
			ItemID:         ev.DonationID,
			Title:          "New donation from " + ev.DonorName,
			Message:        fmt.Sprintf("%s just donated %s", ev.DonorName, ev.ItemTitle),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if reason := malformed(&n); reason != "" {
			batch.skip(n.NotificationID, reason)
			continue
		}
		records = append(records, n)
	}
	return s.commitAndRun(ctx, batch, records)
}

func (s *service) SweepShippedFollowups(ctx context.Context) (*BatchResult, error) {
	now := s.now().UTC()
	due, err := s.items.ListFollowupDue(ctx, now.Add(-s.followupAfter))
	if err != nil {
		return nil, fmt.Errorf("list follow-ups due: %w", err)
	}

	batch := &BatchResult{Trigger: triggerFollowup}
	committed := make([]domain.Notification, 0, len(due))
	for _, item := range due {
		n := domain.Notification{
			NotificationID: id.New(),
			UserID:         item.BuyerID,
			Type:           domain.TypeShippedFollowup,
			ItemID:         item.ItemID,
			Title:          "Did your item arrive?",
			Message:        fmt.Sprintf("Let us know once you have received %s.", item.Title),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if reason := malformed(&n); reason != "" {
			batch.skip(n.NotificationID, reason)
			continue
		}
		// A conflict means an overlapping sweep already created this follow-up.
		if err := s.items.CommitFollowup(ctx, item.ItemID, &n); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			batch.add(ItemResult{
				Result: notification.Result{NotificationID: n.NotificationID, Outcome: domain.OutcomeSkipped, Reason: err.Error()},
				Err:    err,
			})
			continue
		}
		committed = append(committed, n)
	}
	return s.run(ctx, batch, committed), nil
}

func (s *service) SubscriberAdded(ctx context.Context, donorID, subscriberID string) (*notification.Result, error) {
	sub := &domain.Subscription{DonorID: donorID, SubscriberID: subscriberID, CreatedAt: s.now().UTC()}
	if err := validate.Struct(sub); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}
	if err := s.subscriptions.Put(ctx, sub); err != nil {
		return nil, err
	}
	count, err := s.subscriptions.Count(ctx, donorID)
	if err != nil {
		return nil, fmt.Errorf("count subscribers of %s: %w", donorID, err)
	}
	if !milestones[count] {
		return nil, nil
	}

	now := s.now().UTC()
	n := &domain.Notification{
		NotificationID: id.New(),
		UserID:         donorID,
		Type:           domain.TypeSubscriberMilestone,
		ItemID:         fmt.Sprintf("subscribers-%d", count),
		Title:          "Milestone reached",
		Message:        fmt.Sprintf("You now have %d subscribers following your donations!", count),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.records.Put(ctx, n); err != nil {
		return nil, err
	}
	s.metrics.Batch(triggerMilestone, 1)
	res, err := s.pipeline.Process(ctx, n)
	return &res, err
}

func (s *service) Create(ctx context.Context, in domain.NotificationInput) (notification.Result, error) {
	if err := validate.Struct(in); err != nil {
		return notification.Result{}, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}
	now := s.now().UTC()
	n := &domain.Notification{
		NotificationID: id.New(),
		UserID:         in.UserID,
		Type:           in.Type,
		ItemID:         in.ItemID,
		Title:          in.Title,
		Message:        in.Message,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := n.CheckVariant(); err != nil {
		return notification.Result{}, err
	}
	if err := s.records.Put(ctx, n); err != nil {
		return notification.Result{}, err
	}
	s.metrics.Batch(triggerDirect, 1)
	return s.pipeline.Process(ctx, n)
}

func (s *service) Replay(ctx context.Context, notificationID string) (notification.Result, error) {
	return s.pipeline.ProcessID(ctx, notificationID)
}

// commitAndRun persists records in one batch write and runs every record that
// was written. Records the write dropped are reported as skipped; only a batch
// with nothing written fails as a whole.
func (s *service) commitAndRun(ctx context.Context, batch *BatchResult, records []domain.Notification) (*BatchResult, error) {
	if len(records) == 0 {
		return s.run(ctx, batch, nil), nil
	}
	unwritten, err := s.records.BatchPut(ctx, records)
	if err != nil {
		err = fmt.Errorf("commit %s batch: %w", batch.Trigger, err)
		if len(unwritten) >= len(records) {
			return nil, err
		}
		slog.Error("batch partly committed", "trigger", batch.Trigger, "records", len(records), "unwritten", len(unwritten), "err", err)
		dropped := make(map[string]bool, len(unwritten))
		for _, id := range unwritten {
			dropped[id] = true
		}
		written := make([]domain.Notification, 0, len(records)-len(unwritten))
		for _, n := range records {
			if dropped[n.NotificationID] {
				batch.add(ItemResult{
					Result: notification.Result{NotificationID: n.NotificationID, Outcome: domain.OutcomeSkipped, Reason: "not committed"},
					Err:    err,
				})
				continue
			}
			written = append(written, n)
		}
		records = written
	}
	return s.run(ctx, batch, records), nil
}

// run processes committed records with bounded parallelism. A failing record
// never aborts its siblings.
func (s *service) run(ctx context.Context, batch *BatchResult, records []domain.Notification) *BatchResult {
	s.metrics.Batch(batch.Trigger, len(records))
	if len(records) == 0 {
		return batch
	}

	results := make([]ItemResult, len(records))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range records {
		g.Go(func() error {
			res, err := s.pipeline.Process(ctx, &records[i])
			results[i] = ItemResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		batch.add(r)
	}
	slog.Info("batch processed", "trigger", batch.Trigger, "records", len(records),
		"sent", batch.Count(domain.OutcomeSent), "failed", batch.Count(domain.OutcomeFailed))
	return batch
}

// malformed returns why n cannot be persisted, or "" when it can.
func malformed(n *domain.Notification) string {
	if err := validate.Struct(n); err != nil {
		return err.Error()
	}
	if err := n.CheckVariant(); err != nil {
		return err.Error()
	}
	return ""
}

// ItemResult is the outcome for one record of a batch. Err is set when the
// record's terminal write could not be made.
type ItemResult struct {
	notification.Result
	Err error `json:"-"`
}

// BatchResult collects the per-record outcomes of a fan-out or sweep.
type BatchResult struct {
	Trigger string       `json:"trigger"`
	Items   []ItemResult `json:"items"`
}

func (b *BatchResult) add(r ItemResult) { b.Items = append(b.Items, r) }

func (b *BatchResult) skip(notificationID, reason string) {
	b.add(ItemResult{Result: notification.Result{
		NotificationID: notificationID,
		Outcome:        domain.OutcomeSkipped,
		Reason:         "malformed notification: " + reason,
	}})
}

// Count returns how many records ended with outcome o.
func (b *BatchResult) Count(o domain.Outcome) int {
	n := 0
	for _, it := range b.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// Err combines the per-record errors, or returns nil when there were none.
func (b *BatchResult) Err() error {
	var result *multierror.Error
	for _, it := range b.Items {
		if it.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", it.NotificationID, it.Err))
		}
	}
	return result.ErrorOrNil()
}
