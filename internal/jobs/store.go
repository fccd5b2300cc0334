package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "sync:job:"
	// WATCH が競合したときに読み直す回数
	maxTxRetries = 5
)

// RecordStore はジョブ情報の保存先です。
type RecordStore interface {
	// Get は存在しないか期限切れの場合 nil, nil を返します。
	Get(ctx context.Context, jobID string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	MarkRunning(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error
	MarkDone(ctx context.Context, jobID string, result any) error
	MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error
}

// Store はジョブ情報を JSON で Redis に保存します。キーは TTL で消えます。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, errors.New("jobID is required")
	}
	raw, err := s.rdb.Get(ctx, jobKeyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return decodeRecord(raw)
}

func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return errors.New("record is nil")
	}
	stamp(record, s.ttl)
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKeyPrefix+record.JobID, raw, s.remaining(record)).Err()
}

func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	return s.modify(ctx, jobID, markRunning)
}

func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.modify(ctx, jobID, func(r *Record) { r.Progress = progress })
}

func (s *Store) MarkDone(ctx context.Context, jobID string, result any) error {
	return s.modify(ctx, jobID, func(r *Record) { markDone(r, result) })
}

func (s *Store) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.modify(ctx, jobID, func(r *Record) { markFailed(r, errInfo) })
}

// modify はキーを WATCH して読み出し、mutate を適用して書き戻します。
// 進捗更新と完了通知が競合した場合は読み直してやり直します。
func (s *Store) modify(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKeyPrefix + jobID
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if err != nil {
			return err
		}
		record, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		mutate(record)
		record.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.remaining(record))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("job %s: too many concurrent updates", jobID)
}

// remaining は作成時の ExpiresAt までの残り寿命です。
func (s *Store) remaining(record *Record) time.Duration {
	ttl := time.Until(record.ExpiresAt)
	if record.ExpiresAt.IsZero() || ttl <= 0 {
		return s.ttl
	}
	return ttl
}

func decodeRecord(raw []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}
	return &record, nil
}
