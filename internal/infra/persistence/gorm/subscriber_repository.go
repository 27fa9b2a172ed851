package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mohsinalimat/watchparty/internal/domain"
	"github.com/mohsinalimat/watchparty/internal/repository"
)

// GormSubscriberRepository reads the subscriber mirror table.
type GormSubscriberRepository struct {
	db *gorm.DB
}

// NewGormSubscriberRepository creates a GormSubscriberRepository.
func NewGormSubscriberRepository(db *gorm.DB) *GormSubscriberRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSubscriberRepository")
	}
	return &GormSubscriberRepository{db: db}
}

// FindByEmail returns the subscription row for email.
func (r *GormSubscriberRepository) FindByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find subscriber by email '%s': %w", email, err)
	}
	return &sub, nil
}
