package domain

import "time"

// Identity is a verified user as returned by the token verifier.
type Identity struct {
	UID   string
	Email string
}

// Subscriber mirrors a billing subscription. Rows are kept in sync by the billing
// integration; this service only reads them.
type Subscriber struct {
	ID        uint      `gorm:"primaryKey"`
	UID       string    `gorm:"column:uid;size:191;index"`
	Email     string    `gorm:"column:email;size:191;uniqueIndex;not null"`
	Status    string    `gorm:"column:status;size:50;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName keeps the table name the billing sync job writes to.
func (Subscriber) TableName() string { return "subscriber" }

// Active reports whether the subscription is currently paid up.
func (s *Subscriber) Active() bool { return s != nil && s.Status == "active" }
