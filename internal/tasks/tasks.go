package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/mohsinalimat/watchparty/internal/fleet"
)

const (
	// TypeVBrowserReset returns a VM to its pool after a session ended.
	TypeVBrowserReset = "vbrowser:reset"
	// TypeRoomFlush persists every live room of one shard.
	TypeRoomFlush = "room:flush"
)

// QueueCritical is shared by all shards; any worker may reset any VM.
const QueueCritical = "critical"

const resetMaxRetry = 3

// ShardQueue is the queue only the given shard consumes.
func ShardQueue(shardID int) string {
	return fmt.Sprintf("shard-%d", shardID)
}

// VBrowserResetPayload identifies the VM to reset.
type VBrowserResetPayload struct {
	Provider string `json:"provider"`
	Large    bool   `json:"large"`
	Region   string `json:"region,omitempty"`
	ID       string `json:"id"`
}

// Pool rebuilds the fleet pool of the VM.
func (p VBrowserResetPayload) Pool() fleet.Pool {
	return fleet.Pool{Provider: p.Provider, Large: p.Large, Region: p.Region}
}

// NewVBrowserResetTask creates a reset task for VM id of pool.
func NewVBrowserResetTask(pool fleet.Pool, id string) (*asynq.Task, error) {
	payload, err := json.Marshal(VBrowserResetPayload{
		Provider: pool.Provider,
		Large:    pool.Large,
		Region:   pool.Region,
		ID:       id,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeVBrowserReset, payload, asynq.MaxRetry(resetMaxRetry), asynq.Queue(QueueCritical)), nil
}

// NewRoomFlushTask creates the periodic flush task. It carries no payload.
func NewRoomFlushTask() *asynq.Task {
	return asynq.NewTask(TypeRoomFlush, nil, asynq.MaxRetry(0))
}

// Enqueuer is the part of *asynq.Client the terminator needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ResetEnqueuer terminates VMs by queueing reset tasks.
type ResetEnqueuer struct {
	client Enqueuer
}

// NewResetEnqueuer creates a ResetEnqueuer.
func NewResetEnqueuer(client Enqueuer) *ResetEnqueuer {
	if client == nil {
		panic("asynq client cannot be nil for ResetEnqueuer")
	}
	return &ResetEnqueuer{client: client}
}

// Terminate queues a reset of VM id.
func (e *ResetEnqueuer) Terminate(ctx context.Context, pool fleet.Pool, id string) error {
	task, err := NewVBrowserResetTask(pool, id)
	if err != nil {
		return fmt.Errorf("failed to build reset task for %s: %w", id, err)
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue reset of %s: %w", id, err)
	}
	return nil
}
