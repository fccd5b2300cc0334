// Package main は GTFS / ODPT フィードを取り込むコマンドラインツールです。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/cache"
	"github.com/yourusername/barrierfree-rail/internal/config"
	"github.com/yourusername/barrierfree-rail/internal/logging"
	"github.com/yourusername/barrierfree-rail/internal/odpt"
	"github.com/yourusername/barrierfree-rail/internal/store"
	"github.com/yourusername/barrierfree-rail/internal/syncer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app はサブコマンド間で共有する設定とロガーです。
type app struct {
	verbose bool
	cfg     *config.Config
	logger  *zap.Logger
}

type runFlags struct {
	feed   string
	file   string
	dryRun bool
	prune  bool
	batch  int
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "railsync",
		Short:        "Import operators, lines and stations from GTFS / ODPT feeds",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if a.verbose {
				level = "debug"
			}
			logger, err := logging.New(level, cfg.GinMode)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			Args:  cobra.NoArgs,
			RunE:  a.migrate,
		},
		&cobra.Command{
			Use:   "feeds",
			Short: "List feeds defined in the feeds config",
			Args:  cobra.NoArgs,
			RunE:  a.listFeeds,
		},
		a.runCmd(),
		a.runsCmd(),
	)
	return root
}

func (a *app) runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch a feed and apply it to the database",
		Long: `Fetches a feed and applies only the differences to the database.

Rows edited in the admin panel are never touched. Rows that disappeared from
the feed are reported as stale and removed only with --prune.

Example:
  railsync run --feed tokyo --dry-run
  railsync run --feed local --file ./gtfs.zip --prune`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.feed, "feed", "", "feed name (required)")
	cmd.Flags().StringVar(&f.file, "file", "", "local GTFS zip to use instead of the feed's url/path")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "compute the diff without writing")
	cmd.Flags().BoolVar(&f.prune, "prune", false, "delete rows that are no longer in the feed")
	cmd.Flags().IntVar(&f.batch, "batch", 0, "rows per upsert batch (default SYNC_BATCH_SIZE)")
	_ = cmd.MarkFlagRequired("feed")
	return cmd
}

func (a *app) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listRuns(cmd, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	db, err := store.Open(a.cfg.DatabasePath, a.logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) migrate(cmd *cobra.Command, _ []string) error {
	db, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", a.cfg.DatabasePath)
	return nil
}

func (a *app) listFeeds(cmd *cobra.Command, _ []string) error {
	feeds, err := config.LoadFeeds(a.cfg.FeedsConfigPath)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSOURCE")
	for _, f := range feeds.Feeds {
		src := f.URL
		if f.Path != "" {
			src = f.Path
		}
		if f.Type == config.FeedTypeODPT {
			src = fmt.Sprint(f.Operators)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.Type, src)
	}
	return w.Flush()
}

func (a *app) run(cmd *cobra.Command, f runFlags) error {
	ctx := cmd.Context()
	feeds, err := config.LoadFeeds(a.cfg.FeedsConfigPath)
	if err != nil {
		return err
	}
	feed, err := feeds.Find(f.feed)
	if err != nil {
		// 未定義のフィード名でもファイル指定があれば GTFS として取り込む
		if f.file == "" || !errors.Is(err, config.ErrFeedNotFound) {
			return err
		}
		feed = config.Feed{Name: f.feed, Type: config.FeedTypeGTFS}
	}

	db, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := syncer.ServiceOptions{
		Feeds:     feeds,
		Syncer:    syncer.New(db, a.logger),
		BatchSize: a.cfg.SyncBatchSize,
		Logger:    a.logger,
	}
	if a.cfg.RedisEnabled() {
		inv, closeFn, err := a.redisCache()
		if err != nil {
			return err
		}
		defer closeFn()
		opts.Cache = inv
	}
	svc, err := syncer.NewService(opts)
	if err != nil {
		return err
	}

	fetcher := &syncer.Fetcher{
		ODPT: odpt.NewClient(a.cfg.ODPTBaseURL, a.cfg.ODPTConsumerKey, nil, a.logger),
	}
	a.logger.Info("fetching feed", zap.String("feed", feed.Name), zap.String("type", string(feed.Type)))
	ds, err := fetcher.Fetch(ctx, feed, f.file)
	if err != nil {
		return err
	}

	report, err := svc.Apply(ctx, ds, syncer.Options{
		DryRun:    f.dryRun,
		Prune:     f.prune,
		BatchSize: f.batch,
		Progress: func(stage string, percent int) {
			a.logger.Debug("sync progress", zap.String("stage", stage), zap.Int("percent", percent))
		},
	})
	if report != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if eerr := enc.Encode(report); eerr != nil {
			return eerr
		}
	}
	return err
}

// redisCache は公開側キャッシュを破棄するための Redis クライアントを用意します。
func (a *app) redisCache() (*cache.Redis, func(), error) {
	opt, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opt)
	ttl := time.Duration(a.cfg.CacheTTLSeconds) * time.Second
	return cache.NewRedis(client, ttl), func() { client.Close() }, nil
}

func (a *app) listRuns(cmd *cobra.Command, limit int) error {
	db, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListSyncRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSOURCE\tSTATUS\tINS\tUPD\tSAME\tDEL\tSKIP")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Source, r.Status,
			r.Inserted, r.Updated, r.Unchanged, r.Deleted, r.Skipped)
	}
	return w.Flush()
}
