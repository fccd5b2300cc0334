package jobs

import (
	"errors"
	"time"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record は同期ジョブの現在状態を表します。
type Record struct {
	JobID     string       `json:"jobId"`
	Feed      string       `json:"feed"`
	DryRun    bool         `json:"dryRun"`
	Prune     bool         `json:"prune"`
	Status    Status       `json:"status"`
	Progress  ProgressInfo `json:"progress"`
	Result    any          `json:"result,omitempty"`
	Error     *ErrorInfo   `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// TaskPayload は同期ジョブのペイロードです。
type TaskPayload struct {
	JobID    string `json:"jobId"`
	Feed     string `json:"feed"`
	UploadID string `json:"uploadId,omitempty"`
	DryRun   bool   `json:"dryRun"`
	Prune    bool   `json:"prune"`
}

// ErrJobNotFound は更新対象のジョブ情報が無い（期限切れを含む）場合のエラーです。
var ErrJobNotFound = errors.New("job not found")

// 以下は RecordStore 実装に共通の状態遷移です。

func stamp(record *Record, ttl time.Duration) {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(ttl)
	}
}

func markRunning(record *Record) {
	record.Status = StatusRunning
	record.Progress = ProgressInfo{Stage: "fetch"}
}

func markDone(record *Record, result any) {
	record.Status = StatusSucceeded
	record.Progress = ProgressInfo{Percent: 100, Stage: "done"}
	record.Result = result
	record.Error = nil
}

// markFailed は進捗を失敗した時点のまま残します。
func markFailed(record *Record, errInfo *ErrorInfo) {
	record.Status = StatusFailed
	record.Error = errInfo
}
