// Package cache provides a Redis read-through cache for board trees.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pinboard/api/internal/boardtree"
)

const DefaultTTL = 5 * time.Minute

// RedisTreeCache stores serialized board trees keyed by board id. Each board
// also has a generation counter that Invalidate bumps, so a tree loaded
// before an invalidation is never written back.
type RedisTreeCache struct {
	client    *redis.Client
	prefix    string
	genPrefix string
	ttl       time.Duration
}

// NewRedisTreeCache connects to redisURL and verifies the connection
func NewRedisTreeCache(redisURL string, ttl time.Duration) (*RedisTreeCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisTreeCacheWithClient(client, ttl), nil
}

// NewRedisTreeCacheWithClient creates a cache from an existing Redis client
func NewRedisTreeCacheWithClient(client *redis.Client, ttl time.Duration) *RedisTreeCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTreeCache{
		client:    client,
		prefix:    "board-tree:",
		genPrefix: "board-tree-gen:",
		ttl:       ttl,
	}
}

func (c *RedisTreeCache) key(boardID string) string {
	return c.prefix + boardID
}

func (c *RedisTreeCache) genKey(boardID string) string {
	return c.genPrefix + boardID
}

// Generation returns the board's invalidation counter. Read it before
// loading the tree from the store and hand it to Set.
func (c *RedisTreeCache) Generation(ctx context.Context, boardID string) (int64, error) {
	gen, err := readGeneration(ctx, c.client, c.genKey(boardID))
	if err != nil {
		return 0, fmt.Errorf("get board tree generation: %w", err)
	}
	return gen, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, cmd stringGetter, key string) (int64, error) {
	gen, err := cmd.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns the cached tree and whether it was present
func (c *RedisTreeCache) Get(ctx context.Context, boardID string) (boardtree.Tree, bool, error) {
	raw, err := c.client.Get(ctx, c.key(boardID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return boardtree.Tree{}, false, nil
	}
	if err != nil {
		return boardtree.Tree{}, false, fmt.Errorf("get board tree: %w", err)
	}

	var tree boardtree.Tree
	if err := json.Unmarshal(raw, &tree); err != nil {
		// Unreadable entries are dropped so the next read repopulates them.
		_ = c.client.Del(ctx, c.key(boardID)).Err()
		return boardtree.Tree{}, false, fmt.Errorf("unmarshal board tree: %w", err)
	}
	return tree, true, nil
}

// Set stores tree with the cache TTL if the board's generation is still
// generation. It reports false when an invalidation happened in between and
// the tree was not written.
func (c *RedisTreeCache) Set(ctx context.Context, tree boardtree.Tree, generation int64) (bool, error) {
	raw, err := json.Marshal(tree)
	if err != nil {
		return false, fmt.Errorf("marshal board tree: %w", err)
	}

	genKey := c.genKey(tree.BoardID)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, genKey)
		if err != nil {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(tree.BoardID), raw, c.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set board tree: %w", err)
	}
	return stored, nil
}

// Invalidate evicts the trees of every given board and bumps their
// generations in one transaction.
func (c *RedisTreeCache) Invalidate(ctx context.Context, boardIDs ...string) error {
	if len(boardIDs) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range boardIDs {
			pipe.Incr(ctx, c.genKey(id))
			pipe.Del(ctx, c.key(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate board trees: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisTreeCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisTreeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
