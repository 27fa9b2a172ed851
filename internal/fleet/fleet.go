package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mohsinalimat/watchparty/internal/domain"
)

// ErrUnknownPool is returned for pools whose provider is not configured.
var ErrUnknownPool = errors.New("fleet: pool not configured")

// Pool identifies a group of interchangeable VMs.
type Pool struct {
	Provider string
	Large    bool
	Region   string
}

// Name is the suffix used in the pool's cache keys, e.g. "DOLargeUS".
func (p Pool) Name() string {
	var b strings.Builder
	b.WriteString(p.Provider)
	if p.Large {
		b.WriteString("Large")
	}
	b.WriteString(p.Region)
	return b.String()
}

// Conn is the dedicated cache handle an assignment blocks on. Closing it aborts the wait.
type Conn interface {
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
	ZAdd(ctx context.Context, key string, members ...*redis.Z) *redis.IntCmd
	Close() error
}

// Driver assigns and resets VMs of a single pool.
type Driver interface {
	Pool() Pool
	// Assign takes an idle VM for at most limit. (nil, nil) means none became available.
	Assign(ctx context.Context, conn Conn, limit time.Duration) (*domain.VBrowserSession, error)
	// Reset returns the VM to the pool for re-imaging.
	Reset(ctx context.Context, id string) error
}

// Registry resolves drivers for the configured providers.
type Registry struct {
	client        redis.Cmdable
	providers     map[string]bool
	assignTimeout time.Duration

	mu      sync.Mutex
	drivers map[string]Driver
}

// NewRegistry creates a Registry serving providers. Pools of other providers resolve to nil.
func NewRegistry(client redis.Cmdable, providers []string, assignTimeout time.Duration) *Registry {
	if client == nil {
		panic("redis client cannot be nil for fleet Registry")
	}
	set := make(map[string]bool, len(providers))
	for _, p := range providers {
		if p = strings.TrimSpace(p); p != "" {
			set[p] = true
		}
	}
	return &Registry{
		client:        client,
		providers:     set,
		assignTimeout: assignTimeout,
		drivers:       make(map[string]Driver),
	}
}

// Resolve returns the driver of pool, or nil when its provider is not configured.
func (r *Registry) Resolve(pool Pool) Driver {
	if r == nil || !r.providers[pool.Provider] {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := pool.Name()
	d, ok := r.drivers[name]
	if !ok {
		d = NewRedisPool(r.client, pool, r.assignTimeout)
		r.drivers[name] = d
	}
	return d
}

// Terminate resets a VM of pool right away.
func (r *Registry) Terminate(ctx context.Context, pool Pool, id string) error {
	d := r.Resolve(pool)
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPool, pool.Name())
	}
	return d.Reset(ctx, id)
}
