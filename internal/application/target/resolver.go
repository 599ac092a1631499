package target

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecothreads-notify/internal/domain"
)

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type deviceStore interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Device, error)
}

// Resolver looks up where a user's pushes should go. It has no side effects.
type Resolver struct {
	users   userStore
	devices deviceStore
}

func NewResolver(users userStore, devices deviceStore) *Resolver {
	return &Resolver{users: users, devices: devices}
}

// Resolve returns the push address of the user's most recently updated enabled
// device. domain.ErrNoTarget means the user is absent, disabled or has no token;
// callers treat it as terminal.
func (r *Resolver) Resolve(ctx context.Context, userID string) (domain.DeviceAddress, error) {
	u, err := r.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.DeviceAddress{}, fmt.Errorf("user %s: %w", userID, domain.ErrNoTarget)
		}
		return domain.DeviceAddress{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	if u.Enable == 0 {
		return domain.DeviceAddress{}, fmt.Errorf("user %s disabled: %w", userID, domain.ErrNoTarget)
	}

	devices, err := r.devices.ListByUser(ctx, userID)
	if err != nil {
		return domain.DeviceAddress{}, fmt.Errorf("list devices for %s: %w", userID, err)
	}
	var best *domain.Device
	for i := range devices {
		d := &devices[i]
		if !d.Enable || d.Token == nil || *d.Token == "" {
			continue
		}
		if best == nil || d.UpdatedAt.After(best.UpdatedAt) {
			best = d
		}
	}
	if best == nil {
		return domain.DeviceAddress{}, fmt.Errorf("user %s has no registered token: %w", userID, domain.ErrNoTarget)
	}
	return domain.DeviceAddress{
		UserID:   userID,
		DeviceID: best.DeviceID,
		Token:    *best.Token,
		Platform: best.Platform,
	}, nil
}
