package domain

import "time"

// RoomSettings is the durable, admin-settable part of a room (relational store).
// Nullable columns are pointers so that "never set" and "cleared" stay distinguishable.
type RoomSettings struct {
	RoomID         string     `gorm:"column:roomId;primaryKey;size:191"`
	Password       *string    `gorm:"column:password;size:100"`
	Vanity         *string    `gorm:"column:vanity;size:100;uniqueIndex"`
	Owner          *string    `gorm:"column:owner;size:191;index"`
	IsChatDisabled *bool      `gorm:"column:isChatDisabled"`
	IsSubRoom      *bool      `gorm:"column:isSubRoom"`
	CreationTime   time.Time  `gorm:"column:creationTime"`
	LastUpdateTime *time.Time `gorm:"column:lastUpdateTime"`
	Data           *string    `gorm:"column:data;type:longtext"`
}

// TableName keeps the table name the original deployment uses.
func (RoomSettings) TableName() string { return "room" }

// PasswordValue returns the room password or "" when none is set.
func (s *RoomSettings) PasswordValue() string {
	if s == nil || s.Password == nil {
		return ""
	}
	return *s.Password
}

// OwnerValue returns the owner uid or "" when the room is unowned.
func (s *RoomSettings) OwnerValue() string {
	if s == nil || s.Owner == nil {
		return ""
	}
	return *s.Owner
}

// ChatDisabled reports whether free-text chat is turned off.
func (s *RoomSettings) ChatDisabled() bool {
	return s != nil && s.IsChatDisabled != nil && *s.IsChatDisabled
}

// SubRoom reports whether the room belongs to a subscriber (higher capacity tier).
func (s *RoomSettings) SubRoom() bool {
	return s != nil && s.IsSubRoom != nil && *s.IsSubRoom
}

// SettingsUpdate carries the admin-editable fields of setRoomState.
type SettingsUpdate struct {
	Password       string
	Vanity         string
	IsChatDisabled bool
	// SetVanity is false for non-subscribers, whose vanity URL is left untouched.
	SetVanity bool
}
