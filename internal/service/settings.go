package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mohsinalimat/watchparty/internal/domain"
	"github.com/mohsinalimat/watchparty/internal/repository"
)

const (
	maxSettingLength  = 100
	ownedRoomLimit    = 1
	ownedRoomLimitSub = 10
)

// SettingsService owns the relational room settings: admin fields, ownership and the
// snapshot mirror. A service built without a repository reports ErrDatabaseUnavailable for
// user-facing operations and no-ops everything else.
type SettingsService struct {
	roomRepo repository.RoomSettingsRepository
	// dbSaving keeps rows around on ownership release and enables the data mirror.
	dbSaving bool
}

// NewSettingsService creates a SettingsService. roomRepo may be nil.
func NewSettingsService(roomRepo repository.RoomSettingsRepository, dbSaving bool) *SettingsService {
	return &SettingsService{roomRepo: roomRepo, dbSaving: dbSaving}
}

// Available reports whether a relational store is configured.
func (s *SettingsService) Available() bool {
	return s != nil && s.roomRepo != nil
}

// GetSettings returns the settings of roomID. Rooms without a row, and services without a
// database, yield empty settings.
func (s *SettingsService) GetSettings(ctx context.Context, roomID string) (*domain.RoomSettings, error) {
	if !s.Available() {
		return &domain.RoomSettings{RoomID: roomID}, nil
	}
	settings, err := s.roomRepo.FindByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return &domain.RoomSettings{RoomID: roomID}, nil
		}
		logrus.WithError(err).WithField("room_id", roomID).Error("GetSettings: repository error")
		return nil, ErrInternalServer
	}
	return settings, nil
}

// ValidateOwner succeeds when the room is unowned or owned by uid.
func (s *SettingsService) ValidateOwner(ctx context.Context, roomID, uid string) error {
	if !s.Available() {
		return ErrDatabaseUnavailable
	}
	settings, err := s.GetSettings(ctx, roomID)
	if err != nil {
		return err
	}
	if owner := settings.OwnerValue(); owner != "" && owner != uid {
		return ErrNotOwner
	}
	return nil
}

// UpdateSettings applies the admin fields for the owner uid. Vanity URLs are only
// honoured for subscribers.
func (s *SettingsService) UpdateSettings(ctx context.Context, roomID, uid string, isSubscriber bool, password, vanity string, chatDisabled bool) (*domain.RoomSettings, error) {
	if !s.Available() {
		return nil, ErrDatabaseUnavailable
	}
	if len(password) > maxSettingLength {
		return nil, ErrPasswordTooLong
	}
	if len(vanity) > maxSettingLength {
		return nil, ErrVanityTooLong
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "uid": uid})

	settings, err := s.roomRepo.UpdateOwned(ctx, roomID, uid, domain.SettingsUpdate{
		Password:       password,
		Vanity:         vanity,
		IsChatDisabled: chatDisabled,
		SetVanity:      isSubscriber,
	})
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Warn("UpdateSettings: room is not owned by caller")
			return nil, ErrNotOwner
		}
		logCtx.WithError(err).Error("UpdateSettings: repository error")
		return nil, ErrInternalServer
	}
	logCtx.Info("Room settings updated")
	return settings, nil
}

// ClaimOwnership makes uid the owner of roomID, subject to the permanent room quota.
func (s *SettingsService) ClaimOwnership(ctx context.Context, roomID, uid string, isSubscriber bool, creationTime time.Time) (*domain.RoomSettings, error) {
	if !s.Available() {
		return nil, ErrDatabaseUnavailable
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "uid": uid})

	count, err := s.roomRepo.CountOwnedExcept(ctx, uid, roomID)
	if err != nil {
		logCtx.WithError(err).Error("ClaimOwnership: failed to count owned rooms")
		return nil, ErrInternalServer
	}
	limit := int64(ownedRoomLimit)
	if isSubscriber {
		limit = ownedRoomLimitSub
	}
	if count >= limit {
		logCtx.WithField("owned", count).Info("ClaimOwnership: permanent room limit reached")
		return nil, ErrRoomLimitExceeded
	}

	owner := uid
	sub := isSubscriber
	settings, err := s.roomRepo.Upsert(ctx, &domain.RoomSettings{
		RoomID:       roomID,
		CreationTime: creationTime,
		Owner:        &owner,
		IsSubRoom:    &sub,
	})
	if err != nil {
		logCtx.WithError(err).Error("ClaimOwnership: upsert failed")
		return nil, ErrInternalServer
	}
	logCtx.Info("Room ownership claimed")
	return settings, nil
}

// ReleaseOwnership drops the owner fields, or the whole row when snapshot mirroring is off.
func (s *SettingsService) ReleaseOwnership(ctx context.Context, roomID string) error {
	if !s.Available() {
		return ErrDatabaseUnavailable
	}
	var err error
	if s.dbSaving {
		err = s.roomRepo.ClearOwnership(ctx, roomID)
	} else {
		err = s.roomRepo.Delete(ctx, roomID)
	}
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("ReleaseOwnership: repository error")
		return ErrInternalServer
	}
	logrus.WithField("room_id", roomID).Info("Room ownership released")
	return nil
}

// MirrorSnapshot copies the serialized room into the relational row when enabled.
func (s *SettingsService) MirrorSnapshot(ctx context.Context, roomID string, data []byte, at time.Time) error {
	if !s.Available() || !s.dbSaving {
		return nil
	}
	return s.roomRepo.SaveData(ctx, roomID, data, at)
}
