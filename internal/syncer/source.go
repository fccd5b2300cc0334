package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/yourusername/barrierfree-rail/internal/config"
	"github.com/yourusername/barrierfree-rail/internal/gtfs"
	"github.com/yourusername/barrierfree-rail/internal/model"
	"github.com/yourusername/barrierfree-rail/internal/odpt"
)

// ErrUnsupportedFeed はフィードの種別や指定方法が処理できないことを表します。
var ErrUnsupportedFeed = errors.New("unsupported feed")

// Fetcher はフィード定義から Dataset を取得します。
type Fetcher struct {
	HTTPClient *http.Client
	ODPT       *odpt.Client
}

// Fetch は feed を読み込みます。file が空でなければ GTFS フィードの url/path の代わりにそのファイルを使います。
func (f *Fetcher) Fetch(ctx context.Context, feed config.Feed, file string) (*model.Dataset, error) {
	switch feed.Type {
	case config.FeedTypeGTFS:
		switch {
		case file != "":
			return gtfs.LoadFile(ctx, file, feed.Name)
		case feed.Path != "":
			return gtfs.LoadFile(ctx, feed.Path, feed.Name)
		case feed.URL != "":
			return gtfs.LoadURL(ctx, f.HTTPClient, feed.URL, feed.Name)
		}
		return nil, fmt.Errorf("%w: gtfs feed %q has no url or path", ErrUnsupportedFeed, feed.Name)
	case config.FeedTypeODPT:
		if file != "" {
			return nil, fmt.Errorf("%w: odpt feed %q does not accept a file", ErrUnsupportedFeed, feed.Name)
		}
		if f.ODPT == nil {
			return nil, fmt.Errorf("odpt client is not configured")
		}
		return f.ODPT.Fetch(ctx, feed.Name, feed.Operators)
	}
	return nil, fmt.Errorf("%w: type %q", ErrUnsupportedFeed, feed.Type)
}
