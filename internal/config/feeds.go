package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FeedType は同期元データの種別です。
type FeedType string

const (
	FeedTypeGTFS FeedType = "gtfs"
	FeedTypeODPT FeedType = "odpt"
)

// Feed は feeds.yml の1エントリを表します。
type Feed struct {
	Name string   `yaml:"name" validate:"required"`
	Type FeedType `yaml:"type" validate:"required,oneof=gtfs odpt"`
	// gtfs の場合は URL または Path のどちらかが必要
	URL  string `yaml:"url" validate:"omitempty,url"`
	Path string `yaml:"path"`
	// odpt の場合に取得対象を絞り込む事業者ID（例: odpt.Operator:TokyoMetro）
	Operators []string `yaml:"operators"`
}

// Feeds はフィード定義の一覧です。
type Feeds struct {
	Feeds []Feed `yaml:"feeds" validate:"dive"`
}

// ErrFeedNotFound は指定名のフィードが定義されていない場合のエラーです。
var ErrFeedNotFound = errors.New("feed not found")

// LoadFeeds はYAMLファイルからフィード定義を読み込み、検証します。
// ファイルが存在しない場合は空の定義を返します。
func LoadFeeds(path string) (*Feeds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Feeds{}, nil
		}
		return nil, fmt.Errorf("failed to read feeds config: %w", err)
	}
	return ParseFeeds(data)
}

// ParseFeeds はYAMLバイト列からフィード定義を組み立てます。
func ParseFeeds(data []byte) (*Feeds, error) {
	var feeds Feeds
	if err := yaml.Unmarshal(data, &feeds); err != nil {
		return nil, fmt.Errorf("failed to parse feeds config: %w", err)
	}

	v := validator.New()
	if err := v.Struct(feeds); err != nil {
		return nil, fmt.Errorf("invalid feeds config: %w", err)
	}

	seen := make(map[string]struct{}, len(feeds.Feeds))
	for _, f := range feeds.Feeds {
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("invalid feeds config: duplicate feed name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Type == FeedTypeGTFS && f.URL == "" && f.Path == "" {
			return nil, fmt.Errorf("invalid feeds config: gtfs feed %q needs url or path", f.Name)
		}
	}
	return &feeds, nil
}

// Find は名前でフィードを検索します。
func (f *Feeds) Find(name string) (Feed, error) {
	if f != nil {
		for _, feed := range f.Feeds {
			if feed.Name == name {
				return feed, nil
			}
		}
	}
	return Feed{}, fmt.Errorf("%w: %s", ErrFeedNotFound, name)
}
