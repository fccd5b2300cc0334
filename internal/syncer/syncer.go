// Package syncer は GTFS / ODPT から取得したデータを DB と突き合わせ、差分をまとめて書き込みます。
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/model"
	"github.com/yourusername/barrierfree-rail/internal/store"
)

// DefaultBatchSize は1回の INSERT に含める行数の既定値です。
const DefaultBatchSize = 200

// maxSkipDetails はレポートに載せるスキップ理由の上限です。
const maxSkipDetails = 50

// Store は同期処理が使う永続化層です。
type Store interface {
	ExternalOperators(ctx context.Context, source string) ([]model.Operator, error)
	ExternalLines(ctx context.Context, source string) ([]model.Line, error)
	ExternalStations(ctx context.Context, source string) ([]model.Station, error)
	ExternalKeys(ctx context.Context, table string) (map[string]int64, error)
	ExternalOwners(ctx context.Context, table string) (map[string]string, error)
	ApplySync(ctx context.Context, b store.SyncBatch, batchSize int) (store.SyncResult, error)
	RecordSyncRun(ctx context.Context, run *model.SyncRun) error
}

// ProgressFunc は進捗通知です。percent は 0..100 です。
type ProgressFunc func(stage string, percent int)

// Options は同期の実行オプションです。
type Options struct {
	DryRun    bool
	Prune     bool
	BatchSize int
	Progress  ProgressFunc
}

// Counts はエンティティごとの件数です。
type Counts struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	// Stale はデータから消えたが Prune しなかった件数です。
	Stale   int `json:"stale"`
	Deleted int `json:"deleted"`
}

// Report は同期結果です。
type Report struct {
	RunID     int64    `json:"runId,omitempty"`
	Source    string   `json:"source"`
	Feed      string   `json:"feed"`
	DryRun    bool     `json:"dryRun"`
	Prune     bool     `json:"prune"`
	Operators Counts   `json:"operators"`
	Lines     Counts   `json:"lines"`
	Stations  Counts   `json:"stations"`
	Skipped   int      `json:"skipped"`
	Skips     []string `json:"skips,omitempty"`
	// Retained は Prune 対象だったが配下に行が残っていたため削除しなかった行です。
	Retained  []string  `json:"retained,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
}

// Total は全エンティティの件数を合算します。
func (r *Report) Total() Counts {
	var c Counts
	for _, x := range []Counts{r.Operators, r.Lines, r.Stations} {
		c.Inserted += x.Inserted
		c.Updated += x.Updated
		c.Unchanged += x.Unchanged
		c.Stale += x.Stale
		c.Deleted += x.Deleted
	}
	return c
}

// Syncer は同期処理を実行します。
type Syncer struct {
	store    Store
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// New は新しい Syncer を作成します。
func New(st Store, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		store:    st,
		logger:   logger,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run は ds を DB に反映します。DryRun の場合は差分の計算だけを行います。
// 実行結果は成功・失敗にかかわらず sync_runs に記録されます。
func (s *Syncer) Run(ctx context.Context, ds *model.Dataset, opts Options) (*Report, error) {
	if ds == nil || ds.Source == "" {
		return nil, fmt.Errorf("dataset has no source")
	}
	if ds.Source == model.SourceAdmin {
		return nil, fmt.Errorf("source %q is reserved", model.SourceAdmin)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(string, int) {}
	}

	started := s.now()
	report := &Report{
		Source:    ds.Source,
		Feed:      ds.Feed,
		DryRun:    opts.DryRun,
		Prune:     opts.Prune,
		StartedAt: started,
	}
	logger := s.logger.With(zap.String("source", ds.Source), zap.Bool("dry_run", opts.DryRun))

	err := s.run(ctx, ds, opts, report, progress)
	report.Duration = s.now().Sub(started).String()

	status := model.SyncSucceeded
	if opts.DryRun {
		status = model.SyncDryRun
	}
	if err != nil {
		status = model.SyncFailed
		logger.Error("sync failed", zap.Error(err))
	}
	total := report.Total()
	finished := s.now()
	run := &model.SyncRun{
		Source:     ds.Source,
		Feed:       ds.Feed,
		Status:     status,
		Inserted:   total.Inserted,
		Updated:    total.Updated,
		Unchanged:  total.Unchanged,
		Deleted:    total.Deleted,
		Skipped:    report.Skipped,
		StartedAt:  started,
		FinishedAt: &finished,
	}
	if err != nil {
		run.Error = err.Error()
	}
	// キャンセルされていても実行記録は残す
	if rerr := s.store.RecordSyncRun(context.WithoutCancel(ctx), run); rerr != nil {
		logger.Warn("failed to record sync run", zap.Error(rerr))
	} else {
		report.RunID = run.ID
	}
	if err != nil {
		return report, err
	}

	progress("done", 100)
	logger.Info("sync finished",
		zap.Int("inserted", total.Inserted),
		zap.Int("updated", total.Updated),
		zap.Int("unchanged", total.Unchanged),
		zap.Int("deleted", total.Deleted),
		zap.Int("stale", total.Stale),
		zap.Int("skipped", report.Skipped),
		zap.String("duration", report.Duration),
	)
	return report, nil
}

func (s *Syncer) run(ctx context.Context, ds *model.Dataset, opts Options, report *Report, progress ProgressFunc) error {
	progress("validate", 10)
	known, err := loadOwners(ctx, s.store)
	if err != nil {
		return err
	}
	clean, skips := s.prepare(ds, known)
	report.Skipped = len(skips)
	if len(skips) > maxSkipDetails {
		skips = skips[:maxSkipDetails]
	}
	report.Skips = skips

	progress("diff", 30)
	snap, err := LoadSnapshot(ctx, s.store, ds.Source)
	if err != nil {
		return err
	}
	plan := Diff(snap, clean)
	report.Operators = counts(plan.Operators, opts.Prune)
	report.Lines = counts(plan.Lines, opts.Prune)
	report.Stations = counts(plan.Stations, opts.Prune)

	if opts.DryRun {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	progress("apply", 60)
	batch := store.SyncBatch{
		Source:    ds.Source,
		Operators: pick(clean.Operators, plan.Operators, func(r model.OperatorRecord) string { return r.ExternalID }),
		Lines:     pick(clean.Lines, plan.Lines, func(r model.LineRecord) string { return r.ExternalID }),
		Stations:  pick(clean.Stations, plan.Stations, func(r model.StationRecord) string { return r.ExternalID }),
	}
	if opts.Prune {
		batch.DeleteOperators = plan.Operators.Delete
		batch.DeleteLines = plan.Lines.Delete
		batch.DeleteStations = plan.Stations.Delete
	}
	result, err := s.store.ApplySync(ctx, batch, opts.BatchSize)
	if err != nil {
		return err
	}
	retain(report, &report.Operators, "operator", result.RetainedOperators)
	retain(report, &report.Lines, "line", result.RetainedLines)
	retain(report, &report.Stations, "station", result.RetainedStations)
	return nil
}

// retain は削除しなかった行を Deleted から Stale に移します。
func retain(report *Report, c *Counts, kind string, ids []string) {
	c.Deleted -= len(ids)
	c.Stale += len(ids)
	for _, id := range ids {
		report.Retained = append(report.Retained, kind+" "+id)
	}
}

// owners は external_id ごとの取り込み元ソースです。
type owners struct {
	operators map[string]string
	lines     map[string]string
	stations  map[string]string
}

func loadOwners(ctx context.Context, st Store) (owners, error) {
	var o owners
	for _, t := range []struct {
		table string
		dst   *map[string]string
	}{
		{"operators", &o.operators},
		{"lines", &o.lines},
		{"stations", &o.stations},
	} {
		m, err := st.ExternalOwners(ctx, t.table)
		if err != nil {
			return o, err
		}
		*t.dst = m
	}
	return o, nil
}

func counts(p EntityPlan, prune bool) Counts {
	c := Counts{Inserted: len(p.Insert), Updated: len(p.Update), Unchanged: p.Unchanged}
	if prune {
		c.Deleted = len(p.Delete)
	} else {
		c.Stale = len(p.Delete)
	}
	return c
}

// pick は挿入・更新対象のレコードだけを元の順序で返します。
func pick[T any](recs []T, p EntityPlan, key func(T) string) []T {
	want := make(map[string]bool, len(p.Insert)+len(p.Update))
	for _, id := range p.Insert {
		want[id] = true
	}
	for _, id := range p.Update {
		want[id] = true
	}
	out := make([]T, 0, len(want))
	for _, r := range recs {
		if want[key(r)] {
			out = append(out, r)
		}
	}
	return out
}

// prepare は不正なレコード・重複・親が解決できないレコード・他ソースが取り込み済みのレコードを
// 除いたデータセットを返します。親は DB に既に存在するもの（他ソース含む）も参照先として認めます。
func (s *Syncer) prepare(ds *model.Dataset, known owners) (*model.Dataset, []string) {
	out := &model.Dataset{Source: ds.Source, Feed: ds.Feed}
	var skips []string
	skip := func(kind, id, reason string) {
		skips = append(skips, fmt.Sprintf("%s %s: %s", kind, id, reason))
	}
	// 同じ external_id を別ソースが持っている場合は取り込まない
	foreign := func(kind, id string, owner map[string]string) bool {
		if src, ok := owner[id]; ok && src != ds.Source {
			skip(kind, id, "owned by "+src)
			return true
		}
		return false
	}

	operators := make(map[string]bool, len(ds.Operators))
	for _, r := range ds.Operators {
		if err := s.validate.Struct(r); err != nil {
			skip("operator", r.ExternalID, "invalid record")
			continue
		}
		if operators[r.ExternalID] {
			skip("operator", r.ExternalID, "duplicate external id")
			continue
		}
		if foreign("operator", r.ExternalID, known.operators) {
			continue
		}
		operators[r.ExternalID] = true
		out.Operators = append(out.Operators, r)
	}

	lines := make(map[string]bool, len(ds.Lines))
	for _, r := range ds.Lines {
		if err := s.validate.Struct(r); err != nil {
			skip("line", r.ExternalID, "invalid record")
			continue
		}
		if lines[r.ExternalID] {
			skip("line", r.ExternalID, "duplicate external id")
			continue
		}
		if foreign("line", r.ExternalID, known.lines) {
			continue
		}
		if _, ok := known.operators[r.OperatorExternalID]; !ok && !operators[r.OperatorExternalID] {
			skip("line", r.ExternalID, "unknown operator "+r.OperatorExternalID)
			continue
		}
		lines[r.ExternalID] = true
		out.Lines = append(out.Lines, r)
	}

	stations := make(map[string]bool, len(ds.Stations))
	for _, r := range ds.Stations {
		if err := s.validate.Struct(r); err != nil {
			skip("station", r.ExternalID, "invalid record")
			continue
		}
		if stations[r.ExternalID] {
			skip("station", r.ExternalID, "duplicate external id")
			continue
		}
		if foreign("station", r.ExternalID, known.stations) {
			continue
		}
		if _, ok := known.lines[r.LineExternalID]; !ok && !lines[r.LineExternalID] {
			skip("station", r.ExternalID, "unknown line "+r.LineExternalID)
			continue
		}
		stations[r.ExternalID] = true
		out.Stations = append(out.Stations, r)
	}
	return out, skips
}

// LoadSnapshot は source が取り込んだ行を読み出し、親の参照を external_id に置き換えます。
func LoadSnapshot(ctx context.Context, st Store, source string) (Snapshot, error) {
	snap := Snapshot{
		Operators: make(map[string]model.OperatorRecord),
		Lines:     make(map[string]model.LineRecord),
		Stations:  make(map[string]model.StationRecord),
	}

	ops, err := st.ExternalOperators(ctx, source)
	if err != nil {
		return snap, err
	}
	for _, o := range ops {
		snap.Operators[*o.ExternalID] = model.OperatorRecord{
			ExternalID: *o.ExternalID,
			Code:       o.Code,
			Name:       o.Name,
			NameEn:     o.NameEn,
			URL:        o.URL,
		}
	}

	operatorExt, err := reverseKeys(ctx, st, "operators")
	if err != nil {
		return snap, err
	}
	lines, err := st.ExternalLines(ctx, source)
	if err != nil {
		return snap, err
	}
	for _, l := range lines {
		snap.Lines[*l.ExternalID] = model.LineRecord{
			ExternalID:         *l.ExternalID,
			OperatorExternalID: operatorExt[l.OperatorID],
			Code:               l.Code,
			Name:               l.Name,
			NameEn:             l.NameEn,
			Color:              l.Color,
		}
	}

	lineExt, err := reverseKeys(ctx, st, "lines")
	if err != nil {
		return snap, err
	}
	stations, err := st.ExternalStations(ctx, source)
	if err != nil {
		return snap, err
	}
	for _, s := range stations {
		snap.Stations[*s.ExternalID] = model.StationRecord{
			ExternalID:     *s.ExternalID,
			LineExternalID: lineExt[s.LineID],
			Code:           s.Code,
			Name:           s.Name,
			NameKana:       s.NameKana,
			NameEn:         s.NameEn,
			Seq:            s.Seq,
			Lat:            s.Lat,
			Lon:            s.Lon,
		}
	}
	return snap, nil
}

func reverseKeys(ctx context.Context, st Store, table string) (map[int64]string, error) {
	keys, err := st.ExternalKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(keys))
	for ext, id := range keys {
		out[id] = ext
	}
	return out, nil
}
