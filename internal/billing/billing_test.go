package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mohsinalimat/watchparty/internal/billing"
	"github.com/mohsinalimat/watchparty/internal/domain"
	"github.com/mohsinalimat/watchparty/internal/repository"
	"github.com/mohsinalimat/watchparty/internal/repository/mocks"
)

func TestSubscriberChecker(t *testing.T) {
	ctx := context.Background()
	subs := new(mocks.SubscriberRepository)
	subs.On("FindByEmail", ctx, "paid@example.com").Return(&domain.Subscriber{Email: "paid@example.com", Status: "active"}, nil)
	subs.On("FindByEmail", ctx, "lapsed@example.com").Return(&domain.Subscriber{Email: "lapsed@example.com", Status: "canceled"}, nil)
	subs.On("FindByEmail", ctx, "nobody@example.com").Return(nil, repository.ErrNotFound)
	subs.On("FindByEmail", ctx, "broken@example.com").Return(nil, errors.New("connection refused"))
	checker := billing.NewSubscriberChecker(subs)

	active, err := checker.SubscriptionActive(ctx, "paid@example.com")
	assert.NoError(t, err)
	assert.True(t, active)

	active, err = checker.SubscriptionActive(ctx, "lapsed@example.com")
	assert.NoError(t, err)
	assert.False(t, active)

	active, err = checker.SubscriptionActive(ctx, "nobody@example.com")
	assert.NoError(t, err)
	assert.False(t, active)

	_, err = checker.SubscriptionActive(ctx, "broken@example.com")
	assert.Error(t, err)

	active, err = checker.SubscriptionActive(ctx, "")
	assert.NoError(t, err)
	assert.False(t, active)
	subs.AssertNumberOfCalls(t, "FindByEmail", 4)
}
