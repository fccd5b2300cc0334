package main

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/cache"
	"github.com/yourusername/barrierfree-rail/internal/config"
	"github.com/yourusername/barrierfree-rail/internal/jobs"
	"github.com/yourusername/barrierfree-rail/internal/storage"
)

const (
	uploadSweepInterval = 30 * time.Minute
	uploadMaxAge        = 6 * time.Hour
)

// redisDeps は Redis を使う部品をまとめたものです。
type redisDeps struct {
	client *redis.Client
	cache  *cache.Redis
}

func (d *redisDeps) Close() error {
	return d.client.Close()
}

func setupRedis(cfg *config.Config) (*redisDeps, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	ttl := cfg.CacheTTLSeconds
	if ttl <= 0 {
		ttl = 300
	}
	return &redisDeps{
		client: client,
		cache:  cache.NewRedis(client, time.Duration(ttl)*time.Second),
	}, nil
}

func setupJobs(cfg *config.Config, deps *redisDeps, runner jobs.Runner, logger *zap.Logger) (*jobs.Manager, error) {
	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	store := jobs.NewStore(deps.client, time.Duration(ttlMinutes)*time.Minute)
	return jobs.NewManager(cfg.RedisURL, runner, store, logger)
}

// sweepUploads は同期に使われずに残ったアップロードを定期的に削除します。
func sweepUploads(ctx context.Context, uploads *storage.Local, logger *zap.Logger) {
	ticker := time.NewTicker(uploadSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := uploads.Sweep(uploadMaxAge)
			if err != nil {
				logger.Warn("failed to sweep uploads", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("swept stale uploads", zap.Int("count", n))
			}
		}
	}
}
