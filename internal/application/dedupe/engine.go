// Package dedupe decides whether a notification intent repeats one already
// delivered inside its trailing window.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/ecothreads-notify/internal/domain"
)

// Verdict is the engine's decision for a candidate.
type Verdict int

const (
	// Accept means the candidate should be delivered under Decision.DedupeID.
	Accept Verdict = iota
	// Suppress means an equivalent notification was already delivered. The
	// candidate must be marked duplicate.
	Suppress
	// Skip means the candidate is already terminal. Nothing is written.
	Skip
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Suppress:
		return "suppress"
	case Skip:
		return "skip"
	}
	return "unknown"
}

type Decision struct {
	Verdict  Verdict
	DedupeID string
}

// Window returns the dedupe window for t. Unknown types fall back to five minutes.
func Window(t domain.NotificationType) time.Duration {
	if v, ok := domain.VariantOf(t); ok {
		return v.Window
	}
	return 5 * time.Minute
}

// Key derives the idempotency key for (userID, type, itemKey) in the window
// bucket containing now.
func Key(userID string, t domain.NotificationType, itemKey string, window time.Duration, now time.Time) string {
	bucket := now.UnixNano() / int64(window)
	sum := sha256.Sum256([]byte(strings.Join([]string{
		userID, string(t), itemKey, strconv.FormatInt(bucket, 10),
	}, "|")))
	return hex.EncodeToString(sum[:16])
}

// Evaluate decides what to do with candidate given recently delivered
// notifications for the same user.
func Evaluate(candidate *domain.Notification, recentSent []domain.Notification, now time.Time) Decision {
	window := Window(candidate.Type)
	key := Key(candidate.UserID, candidate.Type, candidate.ItemKey(), window, now)

	// A re-invoked trigger for a resolved record must not write again.
	if !candidate.Pending() {
		return Decision{Verdict: Skip, DedupeID: key}
	}

	since := now.Add(-window)
	for i := range recentSent {
		r := &recentSent[i]
		if r.NotificationID == candidate.NotificationID || !r.Sent() {
			continue
		}
		if r.UserID != candidate.UserID || r.Type != candidate.Type || r.ItemKey() != candidate.ItemKey() {
			continue
		}
		if r.CreatedAt.Before(since) || r.CreatedAt.After(now) {
			continue
		}
		return Decision{Verdict: Suppress, DedupeID: key}
	}
	return Decision{Verdict: Accept, DedupeID: key}
}
