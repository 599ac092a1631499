package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ecothreads-notify/internal/application/dedupe"
	"github.com/ecothreads-notify/internal/application/dispatch"
	"github.com/ecothreads-notify/internal/application/push"
	"github.com/ecothreads-notify/internal/domain"
	"github.com/ecothreads-notify/internal/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

// memStore is an in-memory record and claim store with the same conditional
// semantics as the DynamoDB repos. Like the SDK, it rejects calls on a done
// context.
type memStore struct {
	mu       sync.Mutex
	records  map[string]*domain.Notification
	claims   map[string]domain.DedupeClaim
	queryErr error
	sentErr  error // returned once by MarkSent
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*domain.Notification{}, claims: map[string]domain.DedupeClaim{}}
}

func (m *memStore) put(n *domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.records[n.NotificationID] = &cp
}

func (m *memStore) snapshot(id string) domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.records[id]
}

func (m *memStore) Get(_ context.Context, id string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memStore) ListSentSince(ctx context.Context, userID string, t domain.NotificationType, itemKey string, since time.Time) ([]domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []domain.Notification
	for _, n := range m.records {
		if n.UserID == userID && n.Type == t && n.ItemKey() == itemKey && n.Sent() && !n.CreatedAt.Before(since) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *memStore) resolve(ctx context.Context, id string, apply func(n *domain.Notification)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[id]
	if !ok || !n.Pending() {
		return fmt.Errorf("notification %s: %w", id, domain.ErrAlreadyTerminal)
	}
	apply(n)
	return nil
}

func (m *memStore) MarkSent(ctx context.Context, id, dedupeID, messageID string, at time.Time) error {
	m.mu.Lock()
	err := m.sentErr
	m.sentErr = nil
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.resolve(ctx, id, func(n *domain.Notification) {
		sent := true
		n.NotificationSent, n.DedupeID, n.MessageID, n.SentAt = &sent, dedupeID, messageID, &at
	})
}

func (m *memStore) MarkFailed(ctx context.Context, id, dedupeID, reason string) error {
	return m.resolve(ctx, id, func(n *domain.Notification) {
		sent := false
		n.NotificationSent, n.Error = &sent, reason
		if dedupeID != "" {
			n.DedupeID = dedupeID
		}
	})
}

func (m *memStore) MarkSuppressed(ctx context.Context, id, dedupeID string) error {
	return m.resolve(ctx, id, func(n *domain.Notification) {
		sent := false
		n.NotificationSent, n.Duplicate, n.DedupeID = &sent, true, dedupeID
	})
}

func (m *memStore) Claim(ctx context.Context, c *domain.DedupeClaim, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.claims[c.DedupeID]; ok && held.ExpiresAt >= now.Unix() && held.NotificationID != c.NotificationID {
		return domain.ErrConflict
	}
	m.claims[c.DedupeID] = *c
	return nil
}

func (m *memStore) Release(ctx context.Context, dedupeID, notificationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.claims[dedupeID]; ok && held.NotificationID == notificationID {
		delete(m.claims, dedupeID)
	}
	return nil
}

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Resolve(ctx context.Context, userID string) (domain.DeviceAddress, error) {
	args := m.Called(ctx, userID)
	addr, _ := args.Get(0).(domain.DeviceAddress)
	return addr, args.Error(1)
}

type mockGateway struct{ mock.Mock }

func (m *mockGateway) Send(ctx context.Context, target domain.DeviceAddress, msg push.Message) (string, error) {
	args := m.Called(ctx, target, msg)
	return args.String(0), args.Error(1)
}

// --- helpers ---

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memStore
	resolver *mockResolver
	gateway  *mockGateway
	svc      *service
}

func newFixture() *fixture {
	f := &fixture{store: newMemStore(), resolver: &mockResolver{}, gateway: &mockGateway{}}
	f.svc = NewService(ServiceDeps{
		Records:    f.store,
		Claims:     f.store,
		Resolver:   f.resolver,
		Dispatcher: dispatch.NewDispatcher(f.store, f.gateway),
		Metrics:    metrics.New(),
	}).(*service)
	f.at(t0)
	return f
}

func (f *fixture) at(now time.Time) { f.svc.now = func() time.Time { return now } }

func donation(id string, createdAt time.Time) *domain.Notification {
	return &domain.Notification{
		NotificationID: id,
		UserID:         "u1",
		Type:           domain.TypeNewDonation,
		ItemID:         "don-1",
		Title:          "New donation",
		Message:        "Ana donated a jacket",
		CreatedAt:      createdAt,
	}
}

var device = domain.DeviceAddress{UserID: "u1", DeviceID: "d1", Token: "arn:endpoint", Platform: domain.PlatformAndroid}

func assertTerminal(t *testing.T, n domain.Notification) {
	t.Helper()
	require.NotNil(t, n.NotificationSent, "record %s left pending", n.NotificationID)
	if n.Duplicate {
		assert.False(t, *n.NotificationSent)
	}
}

// --- tests ---

func TestProcess_Sends(t *testing.T) {
	f := newFixture()
	n := donation("n1", t0)
	f.store.put(n)
	f.resolver.On("Resolve", mock.Anything, "u1").Return(device, nil)
	f.gateway.On("Send", mock.Anything, device, mock.Anything).Return("m-1", nil)

	res, err := f.svc.Process(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSent, res.Outcome)
	assert.Equal(t, "m-1", res.MessageID)
	stored := f.store.snapshot("n1")
	assert.True(t, stored.Sent())
	assert.Equal(t, res.DedupeID, stored.DedupeID)
	assert.NotNil(t, stored.SentAt)
}

// User without a token: resolve fails, no gateway call, record ends failed.
func TestProcess_NoTarget_FailsWithoutSend(t *testing.T) {
	f := newFixture()
	n := donation("n1", t0)
	f.store.put(n)
	f.resolver.On("Resolve", mock.Anything, "u1").Return(nil, fmt.Errorf("u1: %w", domain.ErrNoTarget))

	res, err := f.svc.Process(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Equal(t, "no push target", res.Reason)
	f.gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	stored := f.store.snapshot("n1")
	assertTerminal(t, stored)
	assert.False(t, *stored.NotificationSent)
	assert.Empty(t, f.store.claims, "claim must be released after a failure")
}

// Two donations for the same (user, item) 30 seconds apart.
func TestProcess_SecondDonationInBucket_Suppressed(t *testing.T) {
	f := newFixture()
	f.resolver.On("Resolve", mock.Anything, "u1").Return(device, nil)
	f.gateway.On("Send", mock.Anything, device, mock.Anything).Return("m-1", nil)

	first := donation("n1", t0)
	f.store.put(first)
	_, err := f.svc.Process(context.Background(), first)
	require.NoError(t, err)

	later := t0.Add(30 * time.Second)
	f.at(later)
	second := donation("n2", later)
	f.store.put(second)
	res, err := f.svc.Process(context.Background(), second)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuppressed, res.Outcome)
	stored := f.store.snapshot("n2")
	assertTerminal(t, stored)
	assert.True(t, stored.Duplicate)
	assert.False(t, *stored.NotificationSent)
	f.gateway.AssertNumberOfCalls(t, "Send", 1)
}

func TestProcess_ReplayOfSentRecord_IsNoop(t *testing.T) {
	f := newFixture()
	f.resolver.On("Resolve", mock.Anything, "u1").Return(device, nil)
	f.gateway.On("Send", mock.Anything, device, mock.Anything).Return("m-1", nil)

	n := donation("n1", t0)
	f.store.put(n)
	_, err := f.svc.Process(context.Background(), n)
	require.NoError(t, err)
	before := f.store.snapshot("n1")

	res, err := f.svc.ProcessID(context.Background(), "n1")

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	assert.Equal(t, before, f.store.snapshot("n1"))
	f.gateway.AssertNumberOfCalls(t, "Send", 1)
}

// Same bucket, but the first send has not been written back yet: the claim
// catches the race.
func TestProcess_ClaimHeld_Suppressed(t *testing.T) {
	f := newFixture()
	n := donation("n2", t0)
	f.store.put(n)
	window := dedupe.Window(n.Type)
	key := dedupe.Key(n.UserID, n.Type, n.ItemKey(), window, t0)
	require.NoError(t, f.store.Claim(context.Background(), &domain.DedupeClaim{
		DedupeID: key, NotificationID: "n1", ExpiresAt: t0.Add(window).Unix(),
	}, t0))

	res, err := f.svc.Process(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuppressed, res.Outcome)
	assert.Equal(t, key, res.DedupeID)
	assert.True(t, f.store.snapshot("n2").Duplicate)
	f.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestProcess_GatewayFailure_ReleasesClaimForLaterAttempt(t *testing.T) {
	f := newFixture()
	f.resolver.On("Resolve", mock.Anything, "u1").Return(device, nil)
	f.gateway.On("Send", mock.Anything, device, mock.Anything).Return("", errors.New("throttled")).Once()
	f.gateway.On("Send", mock.Anything, device, mock.Anything).Return("m-2", nil)

	first := donation("n1", t0)
	f.store.put(first)
	res, err := f.svc.Process(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Equal(t, "throttled", f.store.snapshot("n1").Error)

	second := donation("n2", t0.Add(10*time.Second))
	f.store.put(second)
	f.at(t0.Add(10 * time.Second))
	res, err = f.svc.Process(context.Background(), second)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSent, res.Outcome)
}

func TestProcess_LookupError_Fails(t *testing.T) {
	f := newFixture()
	f.store.queryErr = errors.New("index unavailable")
	n := donation("n1", t0)
	f.store.put(n)

	res, err := f.svc.Process(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assertTerminal(t, f.store.snapshot("n1"))
	f.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestProcess_Malformed_Fails(t *testing.T) {
	f := newFixture()
	n := donation("n1", t0)
	n.ItemID = ""
	f.store.put(n)

	res, err := f.svc.Process(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "malformed")
	assertTerminal(t, f.store.snapshot("n1"))
}

func TestProcess_ConcurrentResolver_ReportsSkipped(t *testing.T) {
	f := newFixture()
	n := donation("n1", t0)
	f.store.put(n)
	// Another invocation resolved the record after this one read it.
	require.NoError(t, f.store.MarkFailed(context.Background(), "n1", "", "elsewhere"))
	f.store.queryErr = errors.New("index unavailable")

	res, err := f.svc.Process(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	assert.Equal(t, "elsewhere", f.store.snapshot("n1").Error)
}

func TestProcessID_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ProcessID(context.Background(), "missing")

	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// The caller goes away while the push is in flight. The gateway reports the
// cancellation and the record must still end failed with its claim released.
func TestProcess_CallerCancelledDuringSend_StillResolves(t *testing.T) {
	f := newFixture()
	n := donation("n1", t0)
	f.store.put(n)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.resolver.On("Resolve", mock.Anything, "u1").Return(device, nil)
	f.gateway.On("Send", mock.Anything, device, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)

	res, err := f.svc.Process(ctx, n)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	stored := f.store.snapshot("n1")
	assertTerminal(t, stored)
	assert.False(t, *stored.NotificationSent)
	assert.Empty(t, f.store.claims)
}

func TestProcess_CallerAlreadyCancelled_StillResolves(t *testing.T) {
	f := newFixture()
	n := donation("n1", t0)
	f.store.put(n)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.svc.Process(ctx, n)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "dedupe lookup")
	assertTerminal(t, f.store.snapshot("n1"))
	f.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

// The push went out but recording it failed. The record's own claim must not
// block a replay, which delivers again and resolves the record.
func TestProcess_ReplayAfterLostSentWrite_Resends(t *testing.T) {
	f := newFixture()
	n := donation("n1", t0)
	f.store.put(n)
	f.store.sentErr = errors.New("throughput exceeded")
	f.resolver.On("Resolve", mock.Anything, "u1").Return(device, nil)
	f.gateway.On("Send", mock.Anything, device, mock.Anything).Return("m-1", nil)

	_, err := f.svc.Process(context.Background(), n)
	require.Error(t, err)
	require.Nil(t, f.store.snapshot("n1").NotificationSent)
	require.Len(t, f.store.claims, 1)

	f.at(t0.Add(time.Minute))
	res, err := f.svc.ProcessID(context.Background(), "n1")

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSent, res.Outcome)
	stored := f.store.snapshot("n1")
	assert.True(t, stored.Sent())
	assert.False(t, stored.Duplicate)
	f.gateway.AssertNumberOfCalls(t, "Send", 2)
}
