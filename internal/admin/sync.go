package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/apperr"
	"github.com/yourusername/barrierfree-rail/internal/jobs"
	"github.com/yourusername/barrierfree-rail/internal/syncer"
)

// multipart のヘッダー等のために上限に上乗せする余裕
const multipartOverhead = 1 << 20

type syncRequest struct {
	Feed   string `json:"feed" binding:"required"`
	DryRun bool   `json:"dryRun"`
	Prune  bool   `json:"prune"`
}

func (h *Handler) listFeeds(c *gin.Context) {
	if h.sync == nil {
		c.JSON(http.StatusOK, gin.H{"items": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.sync.Feeds()})
}

// startSync は同期を開始します。JSON でフィード名を指定するか、multipart で GTFS zip をアップロードします。
// ジョブキューがある場合は 202 とジョブIDを、ない場合は同期的に実行して 200 とレポートを返します。
func (h *Handler) startSync(c *gin.Context) {
	if h.sync == nil {
		apperr.Respond(c, apperr.New(apperr.CodeUnsupportedFeed, "同期機能が設定されていません", nil))
		return
	}

	req, err := h.readSyncRequest(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if _, err := h.sync.Resolve(req); err != nil {
		h.discardUpload(req.UploadID)
		apperr.Respond(c, err)
		return
	}

	logger := h.logger.With(zap.String("feed", req.Feed), zap.Bool("dry_run", req.DryRun), zap.Bool("prune", req.Prune))
	if h.jobs != nil {
		jobID := uuid.NewString()
		if _, err := h.jobs.Enqueue(c.Request.Context(), &jobs.TaskPayload{
			JobID:    jobID,
			Feed:     req.Feed,
			UploadID: req.UploadID,
			DryRun:   req.DryRun,
			Prune:    req.Prune,
		}); err != nil {
			h.discardUpload(req.UploadID)
			logger.Error("failed to enqueue sync job", zap.Error(err))
			apperr.Respond(c, err)
			return
		}
		logger.Info("sync job enqueued", zap.String("job_id", jobID))
		c.JSON(http.StatusAccepted, gin.H{
			"jobId":  jobID,
			"status": jobs.StatusQueued,
		})
		return
	}

	report, err := h.sync.Execute(c.Request.Context(), req, nil)
	if err != nil {
		logger.Error("sync failed", zap.Error(err))
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) readSyncRequest(c *gin.Context) (syncer.Request, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var body syncRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			return syncer.Request{}, bindError(err)
		}
		return syncer.Request{Feed: body.Feed, DryRun: body.DryRun, Prune: body.Prune}, nil
	}

	if h.uploads == nil {
		return syncer.Request{}, apperr.New(apperr.CodeUnsupportedFeed, "アップロードは有効になっていません", nil)
	}
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return syncer.Request{}, apperr.New(apperr.CodeLimitExceeded, "アップロードファイルが大きすぎます", err)
		}
		return syncer.Request{}, apperr.New(apperr.CodeInvalidInput, "file を指定してください", err)
	}
	f, err := fh.Open()
	if err != nil {
		return syncer.Request{}, err
	}
	defer f.Close()

	uploadID, err := h.uploads.Save(c.Request.Context(), f)
	if err != nil {
		return syncer.Request{}, err
	}
	return syncer.Request{
		Feed:     c.PostForm("feed"),
		UploadID: uploadID,
		DryRun:   formBool(c, "dryRun"),
		Prune:    formBool(c, "prune"),
	}, nil
}

func (h *Handler) discardUpload(id string) {
	if id == "" || h.uploads == nil {
		return
	}
	if err := h.uploads.Remove(id); err != nil {
		h.logger.Warn("failed to remove upload", zap.String("upload_id", id), zap.Error(err))
	}
}

func formBool(c *gin.Context, name string) bool {
	v, _ := strconv.ParseBool(c.PostForm(name))
	return v
}

func (h *Handler) listSyncRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	runs, err := h.store.ListSyncRuns(c.Request.Context(), limit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": runs})
}

func (h *Handler) getJob(c *gin.Context) {
	if h.jobs == nil {
		apperr.Respond(c, apperr.NotFound("非同期ジョブは有効になっていません"))
		return
	}
	record, err := h.jobs.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if record == nil {
		apperr.Respond(c, apperr.NotFound("ジョブが見つからないか、有効期限が切れています"))
		return
	}
	c.JSON(http.StatusOK, record)
}
