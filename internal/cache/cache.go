// Package cache は公開APIレスポンスを Redis にキャッシュします。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "bf:cache:"
	versionKey = keyPrefix + "version"
)

// Version はキャッシュ全体の世代です。Invalidate するたびに進みます。
type Version int64

// Cache は JSON 値のキャッシュです。
// Get で読んだ Version をそのまま Set に渡すことで、読み込み中に Invalidate された値を新しい世代に書き込まないようにします。
type Cache interface {
	// Get はキャッシュに値があれば dst に読み込んで true を返します。
	Get(ctx context.Context, key string, dst any) (Version, bool, error)
	Set(ctx context.Context, v Version, key string, value any) error
	// Invalidate はすべてのキャッシュを無効にします。
	Invalidate(ctx context.Context) error
}

// Redis はキーにバージョン番号を含めるキャッシュです。
// Invalidate はバージョンを上げるだけで、古いキーは TTL で消えます。
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis は Redis キャッシュを作成します。
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

// Get はキャッシュを取得します。
func (c *Redis) Get(ctx context.Context, key string, dst any) (Version, bool, error) {
	v, err := c.version(ctx)
	if err != nil {
		return 0, false, err
	}
	data, err := c.rdb.Get(ctx, buildKey(v, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return v, false, nil
		}
		return v, false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return v, false, fmt.Errorf("failed to decode cache %s: %w", key, err)
	}
	return v, true, nil
}

// Set は v の世代にキャッシュを保存します。
// 世代が既に進んでいれば古いキーに書くだけなので、その値は読まれずに TTL で消えます。
func (c *Redis) Set(ctx context.Context, v Version, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, buildKey(v, key), data, c.ttl).Err()
}

// Invalidate はバージョンを上げます。
func (c *Redis) Invalidate(ctx context.Context) error {
	return c.rdb.Incr(ctx, versionKey).Err()
}

func (c *Redis) version(ctx context.Context) (Version, error) {
	v, err := c.rdb.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return Version(v), err
}

func buildKey(version Version, key string) string {
	return fmt.Sprintf("%sv%d:%s", keyPrefix, version, key)
}

// Key はパスと引数からキャッシュキーを組み立てます。
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Noop は何もキャッシュしません。Redis が無い環境で使います。
type Noop struct{}

// Get は常にキャッシュなしを返します。
func (Noop) Get(context.Context, string, any) (Version, bool, error) { return 0, false, nil }

// Set は何もしません。
func (Noop) Set(context.Context, Version, string, any) error { return nil }

// Invalidate は何もしません。
func (Noop) Invalidate(context.Context) error { return nil }
