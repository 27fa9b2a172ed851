package fleet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mohsinalimat/watchparty/internal/domain"
)

// RedisPool is a provider-agnostic pool whose bookkeeping lives in the shared cache.
// The provisioning side keeps availableList<pool> stocked and drains resetList<pool>.
type RedisPool struct {
	client        redis.Cmdable
	pool          Pool
	assignTimeout time.Duration
	now           func() time.Time
}

// NewRedisPool creates a RedisPool driver.
func NewRedisPool(client redis.Cmdable, pool Pool, assignTimeout time.Duration) *RedisPool {
	if assignTimeout <= 0 {
		assignTimeout = 30 * time.Second
	}
	return &RedisPool{client: client, pool: pool, assignTimeout: assignTimeout, now: time.Now}
}

func (p *RedisPool) availableKey() string { return "availableList" + p.pool.Name() }
func (p *RedisPool) usedKey() string      { return "used" + p.pool.Name() }
func (p *RedisPool) resetKey() string     { return "resetList" + p.pool.Name() }
func vmKey(id string) string              { return "vm:" + id }

// Pool returns the pool this driver serves.
func (p *RedisPool) Pool() Pool { return p.pool }

// Assign pops an idle VM, blocking on conn for up to the assign timeout. The VM is recorded
// in used<pool> with its expiry deadline as score.
func (p *RedisPool) Assign(ctx context.Context, conn Conn, limit time.Duration) (*domain.VBrowserSession, error) {
	res, err := conn.BRPop(ctx, p.assignTimeout, p.availableKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("fleet: wait on %s: %w", p.availableKey(), err)
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("fleet: malformed BRPOP reply on %s", p.availableKey())
	}
	id := res[1]

	fields, err := conn.HGetAll(ctx, vmKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("fleet: load descriptor of %s: %w", id, err)
	}
	if fields["host"] == "" {
		return nil, fmt.Errorf("fleet: vm %s has no descriptor", id)
	}

	assigned := p.now()
	deadline := assigned.Add(limit)
	if err := conn.ZAdd(ctx, p.usedKey(), &redis.Z{
		Score:  float64(deadline.Unix()),
		Member: id,
	}).Err(); err != nil {
		return nil, fmt.Errorf("fleet: mark %s used: %w", id, err)
	}

	region := fields["region"]
	if region == "" {
		region = p.pool.Region
	}
	return &domain.VBrowserSession{
		ID:         id,
		Host:       fields["host"],
		Pass:       fields["pass"],
		Provider:   p.pool.Provider,
		Region:     region,
		Large:      p.pool.Large,
		AssignTime: assigned.UnixMilli(),
	}, nil
}

// Reset moves the VM from used<pool> to resetList<pool>.
func (p *RedisPool) Reset(ctx context.Context, id string) error {
	pipe := p.client.TxPipeline()
	pipe.ZRem(ctx, p.usedKey(), id)
	pipe.LPush(ctx, p.resetKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fleet: reset %s: %w", id, err)
	}
	return nil
}

// Register adds a ready VM to the pool. Used by provisioning tools and tests.
func (p *RedisPool) Register(ctx context.Context, id, host, pass string) error {
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, vmKey(id), "host", host, "pass", pass, "region", p.pool.Region, "created", strconv.FormatInt(p.now().Unix(), 10))
	pipe.LPush(ctx, p.availableKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fleet: register %s: %w", id, err)
	}
	return nil
}
