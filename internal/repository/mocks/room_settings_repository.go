package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/mohsinalimat/watchparty/internal/domain"
)

// RoomSettingsRepository is a testify mock of repository.RoomSettingsRepository.
type RoomSettingsRepository struct {
	mock.Mock
}

func (m *RoomSettingsRepository) FindByRoomID(ctx context.Context, roomID string) (*domain.RoomSettings, error) {
	args := m.Called(ctx, roomID)
	settings, _ := args.Get(0).(*domain.RoomSettings)
	return settings, args.Error(1)
}

func (m *RoomSettingsRepository) CountOwnedExcept(ctx context.Context, owner, roomID string) (int64, error) {
	args := m.Called(ctx, owner, roomID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *RoomSettingsRepository) Upsert(ctx context.Context, settings *domain.RoomSettings) (*domain.RoomSettings, error) {
	args := m.Called(ctx, settings)
	out, _ := args.Get(0).(*domain.RoomSettings)
	return out, args.Error(1)
}

func (m *RoomSettingsRepository) UpdateOwned(ctx context.Context, roomID, owner string, update domain.SettingsUpdate) (*domain.RoomSettings, error) {
	args := m.Called(ctx, roomID, owner, update)
	out, _ := args.Get(0).(*domain.RoomSettings)
	return out, args.Error(1)
}

func (m *RoomSettingsRepository) ClearOwnership(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *RoomSettingsRepository) Delete(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *RoomSettingsRepository) SaveData(ctx context.Context, roomID string, data []byte, at time.Time) error {
	return m.Called(ctx, roomID, data, at).Error(0)
}
