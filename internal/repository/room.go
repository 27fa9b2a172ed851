package repository

import (
	"context"
	"time"

	"github.com/mohsinalimat/watchparty/internal/domain"
)

// RoomSettingsRepository stores the durable admin settings of rooms.
type RoomSettingsRepository interface {
	// FindByRoomID returns the settings row of a room.
	// Rooms without a row return ErrRoomNotFound.
	FindByRoomID(ctx context.Context, roomID string) (*domain.RoomSettings, error)

	// CountOwnedExcept counts the rooms owned by owner, not counting roomID.
	CountOwnedExcept(ctx context.Context, owner, roomID string) (int64, error)

	// Upsert creates the row or overwrites the given columns of an existing one.
	Upsert(ctx context.Context, settings *domain.RoomSettings) (*domain.RoomSettings, error)

	// UpdateOwned applies update to the row only if it is owned by owner and returns the
	// stored row. A row that is missing or owned by someone else yields ErrRoomNotFound.
	UpdateOwned(ctx context.Context, roomID, owner string, update domain.SettingsUpdate) (*domain.RoomSettings, error)

	// ClearOwnership nulls password, owner, vanity, isChatDisabled and isSubRoom.
	ClearOwnership(ctx context.Context, roomID string) error

	// Delete removes the row.
	Delete(ctx context.Context, roomID string) error

	// SaveData mirrors the serialized snapshot into the row.
	SaveData(ctx context.Context, roomID string, data []byte, at time.Time) error
}
