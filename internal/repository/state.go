package repository

import (
	"context"
	"time"
)

// Counter names shared by every shard.
const (
	CounterVBrowserClientIDs       = "vBrowserClientIDs"
	CounterVBrowserClientIDMinutes = "vBrowserClientIDMinutes"
	CounterVBrowserUIDs            = "vBrowserUIDs"
	CounterVBrowserUIDMinutes      = "vBrowserUIDMinutes"
	ListVBrowserSessionMS          = "vBrowserSessionMS"
)

// StateRepository covers everything a room keeps in the shared cache, usually redis.
type StateRepository interface {
	SnapshotRepository

	// === Subtitles ===

	// SaveSubtitle stores a compressed subtitle blob under its content hash with a fixed TTL.
	SaveSubtitle(ctx context.Context, hash string, blob []byte) error

	// LoadSubtitle returns the compressed blob or ErrSubtitleNotFound.
	LoadSubtitle(ctx context.Context, hash string) ([]byte, error)

	// === Usage accounting ===

	// IncrDailyUsage increments member in the sorted set key and sets the set to expire at
	// expireAt. Returns the new score.
	IncrDailyUsage(ctx context.Context, key, member string, expireAt time.Time) (float64, error)

	// PushSessionDuration records a finished VBrowser session, keeping the most recent 50.
	PushSessionDuration(ctx context.Context, d time.Duration) error

	// Count increments a named counter.
	Count(ctx context.Context, name string) error

	// CountDistinct adds member to a named distinct counter.
	CountDistinct(ctx context.Context, name, member string) error

	// === Rate limiting ===

	// CheckRateLimit increments key and reports true once it exceeds limit within window.
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
