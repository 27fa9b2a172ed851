package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mohsinalimat/watchparty/internal/domain"
	"github.com/mohsinalimat/watchparty/internal/repository"
)

// GormRoomSettingsRepository is the GORM implementation of repository.RoomSettingsRepository.
type GormRoomSettingsRepository struct {
	db *gorm.DB
}

// NewGormRoomSettingsRepository creates a GormRoomSettingsRepository.
func NewGormRoomSettingsRepository(db *gorm.DB) *GormRoomSettingsRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomSettingsRepository")
	}
	return &GormRoomSettingsRepository{db: db}
}

// FindByRoomID loads the settings row of a room.
func (r *GormRoomSettingsRepository) FindByRoomID(ctx context.Context, roomID string) (*domain.RoomSettings, error) {
	var settings domain.RoomSettings
	err := r.db.WithContext(ctx).Where("roomId = ?", roomID).First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room settings for %s: %w", roomID, err)
	}
	return &settings, nil
}

// CountOwnedExcept counts owner's rooms other than roomID.
func (r *GormRoomSettingsRepository) CountOwnedExcept(ctx context.Context, owner, roomID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.RoomSettings{}).
		Where("owner = ? AND roomId <> ?", owner, roomID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count rooms owned by %s: %w", owner, err)
	}
	return count, nil
}

// Upsert inserts the row, or on conflict only takes over owner and isSubRoom.
// creationTime of an existing row is never rewritten.
func (r *GormRoomSettingsRepository) Upsert(ctx context.Context, settings *domain.RoomSettings) (*domain.RoomSettings, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "roomId"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "isSubRoom"}),
	}).Create(settings).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, repository.ErrDuplicateEntry
		}
		return nil, fmt.Errorf("gorm: upsert room settings for %s: %w", settings.RoomID, err)
	}
	return r.FindByRoomID(ctx, settings.RoomID)
}

// UpdateOwned writes the admin fields of a room owned by owner.
func (r *GormRoomSettingsRepository) UpdateOwned(ctx context.Context, roomID, owner string, update domain.SettingsUpdate) (*domain.RoomSettings, error) {
	values := map[string]interface{}{
		"password":       update.Password,
		"isChatDisabled": update.IsChatDisabled,
	}
	if update.SetVanity {
		// An empty vanity is stored as NULL so the unique index ignores it.
		if update.Vanity == "" {
			values["vanity"] = nil
		} else {
			values["vanity"] = update.Vanity
		}
	}
	err := r.db.WithContext(ctx).Model(&domain.RoomSettings{}).
		Where("roomId = ? AND owner = ?", roomID, owner).
		Updates(values).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, repository.ErrDuplicateEntry
		}
		return nil, fmt.Errorf("gorm: update room settings for %s: %w", roomID, err)
	}

	settings, err := r.FindByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if settings.OwnerValue() != owner {
		return nil, repository.ErrRoomNotFound
	}
	return settings, nil
}

// ClearOwnership nulls every admin column but keeps the row (and its data mirror).
func (r *GormRoomSettingsRepository) ClearOwnership(ctx context.Context, roomID string) error {
	err := r.db.WithContext(ctx).Model(&domain.RoomSettings{}).
		Where("roomId = ?", roomID).
		Updates(map[string]interface{}{
			"password":       nil,
			"owner":          nil,
			"vanity":         nil,
			"isChatDisabled": nil,
			"isSubRoom":      nil,
		}).Error
	if err != nil {
		return fmt.Errorf("gorm: clear ownership of %s: %w", roomID, err)
	}
	return nil
}

// Delete removes the row of a room.
func (r *GormRoomSettingsRepository) Delete(ctx context.Context, roomID string) error {
	err := r.db.WithContext(ctx).Where("roomId = ?", roomID).Delete(&domain.RoomSettings{}).Error
	if err != nil {
		return fmt.Errorf("gorm: delete room settings for %s: %w", roomID, err)
	}
	return nil
}

// SaveData mirrors the snapshot blob. Rooms without a row are left alone.
func (r *GormRoomSettingsRepository) SaveData(ctx context.Context, roomID string, data []byte, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.RoomSettings{}).
		Where("roomId = ?", roomID).
		Updates(map[string]interface{}{
			"lastUpdateTime": at,
			"data":           string(data),
		}).Error
	if err != nil {
		return fmt.Errorf("gorm: save snapshot data for %s: %w", roomID, err)
	}
	return nil
}
