// Package jobs は同期処理を Asynq の非同期ジョブとして実行し、その状態を管理します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/apperr"
	"github.com/yourusername/barrierfree-rail/internal/syncer"
)

const (
	taskTypeSync = "sync:run"
	queueSync    = "sync"
)

// Runner は同期ジョブの本体です。
type Runner interface {
	Execute(ctx context.Context, req syncer.Request, progress syncer.ProgressFunc) (*syncer.Report, error)
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  RecordStore
	runner Runner
	logger *zap.Logger
}

// NewManager は Manager を初期化します。redisURL は Asynq のキューに使います。
func NewManager(redisURL string, runner Runner, store RecordStore, logger *zap.Logger) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			// SQLite への書き込みは直列にする
			Concurrency: 1,
			Queues: map[string]int{
				queueSync: 1,
			},
			Logger: logger.Sugar(),
		},
	)

	manager := newManager(runner, store, logger)
	manager.client = client
	manager.server = server
	return manager, nil
}

func newManager(runner Runner, store RecordStore, logger *zap.Logger) *Manager {
	m := &Manager{
		mux:    asynq.NewServeMux(),
		store:  store,
		runner: runner,
		logger: logger,
	}
	m.mux.HandleFunc(taskTypeSync, m.handleSyncTask)
	return m
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", zap.Error(err))
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue はジョブをキューに投入します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("payload.JobID is required")
	}

	record := &Record{
		JobID:  payload.JobID,
		Feed:   payload.Feed,
		DryRun: payload.DryRun,
		Prune:  payload.Prune,
		Status: StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "queued",
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	// 同期は冪等だが、失敗した取り込みを自動で何度も繰り返さない
	task := asynq.NewTask(taskTypeSync, body, asynq.Queue(queueSync))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0))
	if err != nil {
		_ = m.store.MarkFailed(ctx, payload.JobID, &ErrorInfo{Code: apperr.CodeInternal, Message: "ジョブの投入に失敗しました"})
		return "", err
	}
	return info.ID, nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleSyncTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}
	logger := m.logger.With(zap.String("job_id", payload.JobID), zap.String("feed", payload.Feed))

	if err := m.claim(ctx, &payload); err != nil {
		return err
	}

	logger.Info("sync job started")
	report, err := m.runner.Execute(ctx, syncer.Request{
		Feed:     payload.Feed,
		UploadID: payload.UploadID,
		DryRun:   payload.DryRun,
		Prune:    payload.Prune,
	}, func(stage string, percent int) {
		if err := m.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
			Stage:   stage,
			Percent: percent,
		}); err != nil {
			logger.Warn("failed to update progress", zap.Error(err))
		}
	})
	if err != nil {
		logger.Error("sync job failed", zap.Error(err))
		if ferr := m.failJob(ctx, payload.JobID, err); ferr != nil {
			return ferr
		}
		// 失敗はレコードに記録済みなので再実行しない
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logger.Info("sync job finished")
	return m.store.MarkDone(ctx, payload.JobID, report)
}

// claim はジョブを実行中にします。キュー投入時のレコードが期限切れで消えていれば作り直します。
func (m *Manager) claim(ctx context.Context, p *TaskPayload) error {
	err := m.store.MarkRunning(ctx, p.JobID)
	if !errors.Is(err, ErrJobNotFound) {
		return err
	}
	record := &Record{JobID: p.JobID, Feed: p.Feed, DryRun: p.DryRun, Prune: p.Prune}
	markRunning(record)
	return m.store.Upsert(ctx, record)
}

func (m *Manager) failJob(ctx context.Context, jobID string, err error) error {
	info := &ErrorInfo{Code: apperr.CodeInternal, Message: err.Error()}
	var appErr *apperr.Error
	if errors.As(apperr.Translate(err), &appErr) {
		info = &ErrorInfo{Code: appErr.Code, Message: appErr.Message}
	}
	return m.store.MarkFailed(ctx, jobID, info)
}
