package repository

import (
	"context"
)

// SaveMode selects how a snapshot write treats the key's expiry.
type SaveMode int

const (
	// SaveRefresh writes the value and keeps the existing expiry.
	SaveRefresh SaveMode = iota
	// SaveDurable writes the value and removes any expiry (owned rooms).
	SaveDurable
	// SaveExpiring writes the value with the anonymous-room expiry.
	SaveExpiring
)

func (m SaveMode) String() string {
	switch m {
	case SaveRefresh:
		return "ttl-refresh"
	case SaveDurable:
		return "durable"
	case SaveExpiring:
		return "expiring"
	default:
		return "unknown"
	}
}

// SnapshotRepository stores serialized room snapshots keyed by room id.
type SnapshotRepository interface {
	// LoadSnapshot returns the stored blob or ErrSnapshotNotFound.
	LoadSnapshot(ctx context.Context, roomID string) ([]byte, error)

	// SaveSnapshot writes the blob using mode.
	SaveSnapshot(ctx context.Context, roomID string, data []byte, mode SaveMode) error
}
