package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/config"
	"github.com/yourusername/barrierfree-rail/internal/model"
)

// UploadFeedName はフィード名を指定せずにアップロードされた GTFS の既定のフィード名です。
const UploadFeedName = "upload"

// Uploads はアップロード済みフィードの参照先です。
type Uploads interface {
	Path(id string) (string, error)
	Remove(id string) error
}

// Invalidator は同期後に公開側キャッシュを破棄します。
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Request は1回の同期要求です。
type Request struct {
	Feed     string `json:"feed"`
	UploadID string `json:"uploadId,omitempty"`
	DryRun   bool   `json:"dryRun"`
	Prune    bool   `json:"prune"`
}

// Service はフィード定義の解決・取得・反映・キャッシュ破棄をまとめて行います。
type Service struct {
	feeds     *config.Feeds
	fetcher   *Fetcher
	syncer    *Syncer
	uploads   Uploads
	cache     Invalidator
	batchSize int
	logger    *zap.Logger
}

// ServiceOptions は Service の依存です。Uploads と Cache は省略できます。
type ServiceOptions struct {
	Feeds     *config.Feeds
	Fetcher   *Fetcher
	Syncer    *Syncer
	Uploads   Uploads
	Cache     Invalidator
	BatchSize int
	Logger    *zap.Logger
}

// NewService は Service を作成します。
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Syncer == nil {
		return nil, errors.New("syncer is nil")
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &Fetcher{}
	}
	if opts.Feeds == nil {
		opts.Feeds = &config.Feeds{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		feeds:     opts.Feeds,
		fetcher:   opts.Fetcher,
		syncer:    opts.Syncer,
		uploads:   opts.Uploads,
		cache:     opts.Cache,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
	}, nil
}

// Feeds は定義済みのフィード一覧を返します。
func (s *Service) Feeds() []config.Feed {
	return s.feeds.Feeds
}

// Resolve は要求からフィード定義を決定します。
// アップロード付きで未定義のフィード名の場合は、その名前の GTFS フィードとして扱います。
func (s *Service) Resolve(req Request) (config.Feed, error) {
	name := req.Feed
	if name == "" && req.UploadID != "" {
		name = UploadFeedName
	}
	if name == "" {
		return config.Feed{}, fmt.Errorf("%w: feed name is required", ErrUnsupportedFeed)
	}
	feed, err := s.feeds.Find(name)
	if err != nil {
		if req.UploadID != "" && errors.Is(err, config.ErrFeedNotFound) {
			return config.Feed{Name: name, Type: config.FeedTypeGTFS}, nil
		}
		return config.Feed{}, err
	}
	return feed, nil
}

// Execute は同期要求を実行します。アップロードは成否にかかわらず削除します。
func (s *Service) Execute(ctx context.Context, req Request, progress ProgressFunc) (*Report, error) {
	if progress == nil {
		progress = func(string, int) {}
	}
	feed, err := s.Resolve(req)
	if err != nil {
		return nil, err
	}

	var file string
	if req.UploadID != "" {
		if s.uploads == nil {
			return nil, fmt.Errorf("%w: uploads are not enabled", ErrUnsupportedFeed)
		}
		file, err = s.uploads.Path(req.UploadID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := s.uploads.Remove(req.UploadID); err != nil {
				s.logger.Warn("failed to remove upload", zap.String("upload_id", req.UploadID), zap.Error(err))
			}
		}()
	}

	progress("fetch", 0)
	ds, err := s.fetcher.Fetch(ctx, feed, file)
	if err != nil {
		return nil, err
	}

	report, err := s.syncer.Run(ctx, ds, Options{
		DryRun:    req.DryRun,
		Prune:     req.Prune,
		BatchSize: s.batchSize,
		Progress:  progress,
	})
	if err != nil {
		return report, err
	}
	if !req.DryRun {
		s.invalidate(ctx)
	}
	return report, nil
}

// Apply は取得済みの Dataset を反映します（CLI からの直接実行用）。
func (s *Service) Apply(ctx context.Context, ds *model.Dataset, opts Options) (*Report, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = s.batchSize
	}
	report, err := s.syncer.Run(ctx, ds, opts)
	if err == nil && !opts.DryRun {
		s.invalidate(ctx)
	}
	return report, err
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("failed to invalidate cache", zap.Error(err))
	}
}
