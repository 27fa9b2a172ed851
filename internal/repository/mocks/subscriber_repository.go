package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/mohsinalimat/watchparty/internal/domain"
)

// SubscriberRepository is a testify mock of repository.SubscriberRepository.
type SubscriberRepository struct {
	mock.Mock
}

func (m *SubscriberRepository) FindByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	args := m.Called(ctx, email)
	sub, _ := args.Get(0).(*domain.Subscriber)
	return sub, args.Error(1)
}
