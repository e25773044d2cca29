package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"triage/api/internal/store"
)

// Feed caches the newest activity records. A cold feed reports warm=false so the
// aggregator reloads it from the store.
//
// Every Push bumps the generation, warm or cold. Replace applies only while the
// generation still equals the one read before the store was queried.
type Feed interface {
	Load(ctx context.Context) (items []store.Activity, warm bool, err error)
	Generation(ctx context.Context) (int64, error)
	Replace(ctx context.Context, items []store.Activity, gen int64) (applied bool, err error)
	Push(ctx context.Context, item store.Activity, limit int) error
}

type MemoryFeed struct {
	mu    sync.Mutex
	items []store.Activity
	warm  bool
	gen   int64
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{}
}

func (f *MemoryFeed) Load(context.Context) ([]store.Activity, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Activity, len(f.items))
	copy(out, f.items)
	return out, f.warm, nil
}

func (f *MemoryFeed) Generation(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen, nil
}

func (f *MemoryFeed) Replace(_ context.Context, items []store.Activity, gen int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return false, nil
	}
	f.items = append([]store.Activity(nil), items...)
	f.warm = true
	return true, nil
}

func (f *MemoryFeed) Push(_ context.Context, item store.Activity, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	if !f.warm {
		return nil
	}
	for _, existing := range f.items {
		if existing.ID == item.ID {
			return nil
		}
	}
	f.items = append([]store.Activity{item}, f.items...)
	if limit > 0 && len(f.items) > limit {
		f.items = f.items[:limit]
	}
	return nil
}

const (
	redisTimeout = 2 * time.Second
	pushAttempts = 3
)

// RedisFeed keeps the view as a JSON list under key, newest at the head. The
// generation counter lives under key+":gen".
type RedisFeed struct {
	client *redis.Client
	key    string
}

func NewRedisFeed(client *redis.Client, key string) *RedisFeed {
	if key == "" {
		key = "triage:activity"
	}
	return &RedisFeed{client: client, key: key}
}

func (f *RedisFeed) warmKey() string { return f.key + ":warm" }
func (f *RedisFeed) genKey() string  { return f.key + ":gen" }

func (f *RedisFeed) Load(ctx context.Context) ([]store.Activity, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	warm, err := f.client.Exists(ctx, f.warmKey()).Result()
	if err != nil {
		return nil, false, fmt.Errorf("check activity feed: %w", err)
	}
	if warm == 0 {
		return nil, false, nil
	}
	items, err := readList(ctx, f.client, f.key)
	if err != nil {
		return nil, false, err
	}
	return items, true, nil
}

func (f *RedisFeed) Generation(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	gen, err := f.client.Get(ctx, f.genKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read activity feed generation: %w", err)
	}
	return gen, nil
}

func (f *RedisFeed) Replace(ctx context.Context, items []store.Activity, gen int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	values := make([]any, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return false, fmt.Errorf("encode activity: %w", err)
		}
		values = append(values, raw)
	}

	applied := false
	err := f.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, f.genKey()).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, f.key)
			if len(values) > 0 {
				pipe.RPush(ctx, f.key, values...)
			}
			pipe.Set(ctx, f.warmKey(), "1", 0)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}, f.genKey())
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("replace activity feed: %w", err)
	}
	return applied, nil
}

func (f *RedisFeed) Push(ctx context.Context, item store.Activity, limit int) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	if err := f.client.Incr(ctx, f.genKey()).Err(); err != nil {
		return fmt.Errorf("bump activity feed generation: %w", err)
	}

	for attempt := 0; attempt < pushAttempts; attempt++ {
		err = f.client.Watch(ctx, func(tx *redis.Tx) error {
			warm, err := tx.Exists(ctx, f.warmKey()).Result()
			if err != nil || warm == 0 {
				return err
			}
			cached, err := readList(ctx, tx, f.key)
			if err != nil {
				return err
			}
			for _, existing := range cached {
				if existing.ID == item.ID {
					return nil
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LPush(ctx, f.key, raw)
				if limit > 0 {
					pipe.LTrim(ctx, f.key, 0, int64(limit-1))
				}
				return nil
			})
			return err
		}, f.key, f.warmKey())
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("push activity feed: %w", err)
	}
	return nil
}

type listReader interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

func readList(ctx context.Context, c listReader, key string) ([]store.Activity, error) {
	raw, err := c.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read activity feed: %w", err)
	}
	items := make([]store.Activity, 0, len(raw))
	for _, entry := range raw {
		var item store.Activity
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			return nil, fmt.Errorf("decode activity feed: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}
