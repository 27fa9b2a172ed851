package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohsinalimat/watchparty/internal/repository"
)

// Checker reports whether an email has an active subscription.
type Checker interface {
	SubscriptionActive(ctx context.Context, email string) (bool, error)
}

// SubscriberChecker answers from the subscriber mirror table.
type SubscriberChecker struct {
	subs repository.SubscriberRepository
}

// NewSubscriberChecker creates a SubscriberChecker.
func NewSubscriberChecker(subs repository.SubscriberRepository) *SubscriberChecker {
	if subs == nil {
		panic("SubscriberRepository cannot be nil for SubscriberChecker")
	}
	return &SubscriberChecker{subs: subs}
}

// SubscriptionActive returns false for unknown emails.
func (c *SubscriberChecker) SubscriptionActive(ctx context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}
	sub, err := c.subs.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("billing: lookup %s: %w", email, err)
	}
	return sub.Active(), nil
}

// Disabled is used when no billing store is configured: nobody is a subscriber.
type Disabled struct{}

func (Disabled) SubscriptionActive(context.Context, string) (bool, error) { return false, nil }
