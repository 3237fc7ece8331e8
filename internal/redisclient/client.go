package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/cache_occupied.lua
var cacheOccupiedScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

const defaultOccupiedTTL = 10 * time.Minute

type Client struct {
	rdb           *redis.Client
	cacheScript   *redis.Script
	releaseScript *redis.Script
	occupiedTTL   time.Duration
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		cacheScript:   redis.NewScript(cacheOccupiedScript),
		releaseScript: redis.NewScript(releaseLockScript),
		occupiedTTL:   defaultOccupiedTTL,
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func occupiedKey(raffleID int64) string {
	return fmt.Sprintf("raffle:%d:occupied", raffleID)
}

func versionKey(raffleID int64) string {
	return fmt.Sprintf("raffle:%d:occupied:ver", raffleID)
}

// GetOccupied returns the cached occupied tickets of a raffle. On a miss it
// returns the current cache version, which must be passed to SetOccupied so
// a rebuild racing with an invalidation is discarded.
func (c *Client) GetOccupied(ctx context.Context, raffleID int64) ([]int, string, bool, error) {
	pipe := c.rdb.Pipeline()
	members := pipe.SMembers(ctx, occupiedKey(raffleID))
	version := pipe.Get(ctx, versionKey(raffleID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, "", false, fmt.Errorf("read occupied cache: %w", err)
	}

	ver := version.Val()
	if ver == "" {
		ver = "0"
	}

	vals := members.Val()
	if len(vals) == 0 {
		return nil, ver, false, nil
	}

	out := make([]int, 0, len(vals))
	for _, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, ver, false, fmt.Errorf("corrupt occupied cache member %q: %w", v, err)
		}
		if n == 0 {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, ver, true, nil
}

// SetOccupied atomically replaces the cached occupied set if the cache
// version still equals version. The entry expires after ttl, or after the
// client default when ttl is not positive or longer than it.
func (c *Client) SetOccupied(ctx context.Context, raffleID int64, version string, tickets []int, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.occupiedTTL {
		ttl = c.occupiedTTL
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	args := make([]interface{}, 0, len(tickets)+2)
	args = append(args, version, ttl.Milliseconds())
	for _, t := range tickets {
		args = append(args, t)
	}

	keys := []string{occupiedKey(raffleID), versionKey(raffleID)}
	if _, err := c.cacheScript.Run(ctx, c.rdb, keys, args...).Result(); err != nil {
		return fmt.Errorf("cache occupied script failed: %w", err)
	}
	return nil
}

// Invalidate drops the cached occupied set and bumps its version
func (c *Client) Invalidate(ctx context.Context, raffleID int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, versionKey(raffleID))
	pipe.Del(ctx, occupiedKey(raffleID))
	_, err := pipe.Exec(ctx)
	return err
}

// AcquireLock acquires a distributed lock and returns its owner token
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	return err
}
