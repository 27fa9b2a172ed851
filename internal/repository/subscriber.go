package repository

import (
	"context"

	"github.com/mohsinalimat/watchparty/internal/domain"
)

// SubscriberRepository reads the mirrored billing subscriptions.
type SubscriberRepository interface {
	// FindByEmail returns the subscription for email or ErrNotFound.
	FindByEmail(ctx context.Context, email string) (*domain.Subscriber, error)
}
