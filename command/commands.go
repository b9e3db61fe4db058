package command

import (
	"context"
	"time"

	"github.com/flashts/flashts/chunk"
	"github.com/flashts/flashts/engine"
	"github.com/flashts/flashts/filter"
	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/metricsdb"
	"github.com/flashts/flashts/series"
)

// CreateOptions carries CREATE's optional clauses A nil
// field keeps the base config's value (series.DefaultConfig() for CREATE,
// db.DefaultSeriesConfig() for ADD's implicit creation), so a zero-value
// CreateOptions{} never silently downgrades to a zero-valued enum.
type CreateOptions struct {
	RetentionMs     *int64
	Encoding        *chunk.Encoding
	ChunkSize       *int
	DuplicatePolicy *chunk.DuplicatePolicy
}

func (o CreateOptions) toConfig() series.Config {
	return o.toConfigFrom(series.DefaultConfig())
}

// toConfigFrom overlays o's non-nil fields onto base, the config
// metricsdb.Database.DefaultSeriesConfig() supplies for implicit-creation
// call sites (ADD/INCRBY/remote-write) instead of the package-level
// series.DefaultConfig().
func (o CreateOptions) toConfigFrom(base series.Config) series.Config {
	cfg := base
	if o.RetentionMs != nil {
		cfg.RetentionMs = *o.RetentionMs
	}
	if o.Encoding != nil {
		cfg.Encoding = *o.Encoding
	}
	if o.ChunkSize != nil {
		cfg.ChunkSize = *o.ChunkSize
	}
	if o.DuplicatePolicy != nil {
		cfg.DuplicatePolicy = *o.DuplicatePolicy
	}
	return cfg
}

// Create implements `CREATE key [...]`: fails if key
// already exists.
func Create(db *metricsdb.Database, key string, labels labelset.LabelSet, opts CreateOptions) error {
	_, err := db.Create(key, labels, opts.toConfig())
	if err != nil {
		return wrapErr(KindConstraintViolation, err, "CREATE")
	}
	return nil
}

// AlterOptions carries ALTER's mutable fields: encoding
// is deliberately absent here since it's immutable once a chunk exists.
type AlterOptions struct {
	RetentionMs       *int64
	ChunkSize         *int
	DuplicatePolicy   *chunk.DuplicatePolicy
	IgnoreMaxTimeDiff *int64
	IgnoreMaxValDiff  *float64
	Labels            labelset.LabelSet // zero value (Len()==0) means "unchanged"
}

// Alter implements `ALTER key ...`.
func Alter(db *metricsdb.Database, key string, opts AlterOptions) error {
	s, ok := db.Lookup(key)
	if !ok {
		return ErrNotFound
	}
	if err := s.Alter(series.ConfigDelta{
		RetentionMs:       opts.RetentionMs,
		ChunkSize:         opts.ChunkSize,
		DuplicatePolicy:   opts.DuplicatePolicy,
		IgnoreMaxTimeDiff: opts.IgnoreMaxTimeDiff,
		IgnoreMaxValDiff:  opts.IgnoreMaxValDiff,
	}); err != nil {
		return wrapErr(KindInternal, err, "ALTER")
	}
	if opts.Labels.Len() > 0 {
		if err := db.SetLabels(key, opts.Labels); err != nil {
			return wrapErr(KindInternal, err, "ALTER")
		}
	}
	return nil
}

// AddOptions carries ADD/MADD/INCRBY/DECRBY's optional clauses.
type AddOptions struct {
	// OnDuplicate, if non-nil, overrides the series' configured
	// duplicate policy for this call Open Question (a):
	// "request-level override takes precedence over configured policy".
	OnDuplicate *chunk.DuplicatePolicy
	// CreateIfMissing's defaults, used only when key doesn't exist yet.
	DefaultConfig CreateOptions
	DefaultLabels labelset.LabelSet
}

// Add implements `ADD key ts value [opts]`. The caller resolves `*` to a
// concrete timestamp (ParseTimestamp) before calling; ts is stored as
// given.
func Add(db *metricsdb.Database, key string, ts int64, v float64, opts AddOptions, now int64) (int64, error) {
	s, _, err := db.GetOrCreate(key, opts.DefaultLabels, opts.DefaultConfig.toConfigFrom(db.DefaultSeriesConfig()))
	if err != nil {
		return 0, wrapErr(KindInternal, err, "ADD")
	}
	restore := applyOverride(s, opts.OnDuplicate)
	defer restore()

	outcome, err := s.Add(ts, v, now)
	switch outcome {
	case series.AddBlocked:
		if err != nil {
			return 0, wrapErr(KindDuplicateBlocked, err, "ADD")
		}
		return 0, newErr(KindDuplicateBlocked, "sample at %d rejected", ts)
	case series.AddIgnored:
		return 0, nil
	default:
		return ts, nil
	}
}

// applyOverride temporarily swaps s's duplicate policy for the duration
// of one call, restoring it afterward; used for ADD's opts.OnDuplicate.
func applyOverride(s *series.Series, override *chunk.DuplicatePolicy) func() {
	if override == nil {
		return func() {}
	}
	prev := s.Config.DuplicatePolicy
	s.Config.DuplicatePolicy = *override
	return func() { s.Config.DuplicatePolicy = prev }
}

// MAddEntry is one sample in a MADD batch.
type MAddEntry struct {
	Key string
	TS  int64
	V   float64
}

// MAddResult reports one MADD entry's outcome.
type MAddResult struct {
	TS  int64
	Err error
}

// MAdd implements `MADD (key ts v)+`: per-sample status, batch continues
// past individual failures.
func MAdd(db *metricsdb.Database, entries []MAddEntry, now int64) []MAddResult {
	out := make([]MAddResult, len(entries))
	for i, e := range entries {
		s, ok := db.Lookup(e.Key)
		if !ok {
			out[i] = MAddResult{Err: ErrNotFound}
			continue
		}
		outcome, err := s.Add(e.TS, e.V, now)
		switch outcome {
		case series.AddBlocked:
			out[i] = MAddResult{Err: newErr(KindDuplicateBlocked, "sample at %d rejected: %v", e.TS, err)}
		case series.AddIgnored:
			out[i] = MAddResult{TS: 0}
		default:
			out[i] = MAddResult{TS: e.TS}
		}
	}
	return out
}

// IncrBy implements `INCRBY key value [TIMESTAMP ts] [opts]`: an
// ADD-relative counter mutation against the last sample's value.
func IncrBy(db *metricsdb.Database, key string, delta float64, ts int64, opts AddOptions, now int64) (int64, error) {
	return incrDecr(db, key, delta, ts, opts, now)
}

// DecrBy implements `DECRBY key value [TIMESTAMP ts] [opts]`.
func DecrBy(db *metricsdb.Database, key string, delta float64, ts int64, opts AddOptions, now int64) (int64, error) {
	return incrDecr(db, key, -delta, ts, opts, now)
}

func incrDecr(db *metricsdb.Database, key string, delta float64, ts int64, opts AddOptions, now int64) (int64, error) {
	s, _, err := db.GetOrCreate(key, opts.DefaultLabels, opts.DefaultConfig.toConfigFrom(db.DefaultSeriesConfig()))
	if err != nil {
		return 0, wrapErr(KindInternal, err, "INCRBY")
	}
	base := 0.0
	if last, ok := s.LastSample(); ok {
		base = last.V
	}
	return Add(db, key, ts, base+delta, opts, now)
}

// Del implements `DEL key from to`.
func Del(db *metricsdb.Database, key string, from, to int64) (int, error) {
	s, ok := db.Lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	return s.Delete(from, to), nil
}

// Get implements `GET key [LATEST]`.
func Get(db *metricsdb.Database, key string) (chunk.Sample, error) {
	s, ok := db.Lookup(key)
	if !ok {
		return chunk.Sample{}, ErrNotFound
	}
	last, ok := s.LastSample()
	if !ok {
		return chunk.Sample{}, newErr(KindNotFound, "series %q has no samples", key)
	}
	return last, nil
}

// MGetResult is one series' last sample, labeled for MGET's response
// shape
type MGetResult struct {
	Labels labelset.LabelSet
	Sample chunk.Sample
}

// MGet implements `MGET FILTER ...`: the last sample per matching series.
func MGet(db *metricsdb.Database, groups filter.Groups) []MGetResult {
	ids := db.SelectIDs(groups)
	out := make([]MGetResult, 0, len(ids))
	for _, id := range ids {
		s, ok := db.SeriesByID(id)
		if !ok {
			continue
		}
		last, ok := s.LastSample()
		if !ok {
			continue
		}
		out = append(out, MGetResult{Labels: s.Labels, Sample: last})
	}
	return out
}

// RangeOptions carries RANGE/MRANGE's optional clauses.
type RangeOptions struct {
	FilterByTS    []int64
	FilterByValue *[2]float64
	Count         int
	Aggregation   *AggregationSpec
}

func applyRangeFilters(samples []chunk.Sample, opts RangeOptions) []chunk.Sample {
	out := samples
	if len(opts.FilterByTS) > 0 {
		allowed := make(map[int64]struct{}, len(opts.FilterByTS))
		for _, ts := range opts.FilterByTS {
			allowed[ts] = struct{}{}
		}
		filtered := out[:0:0]
		for _, s := range out {
			if _, ok := allowed[s.TS]; ok {
				filtered = append(filtered, s)
			}
		}
		out = filtered
	}
	if opts.FilterByValue != nil {
		lo, hi := opts.FilterByValue[0], opts.FilterByValue[1]
		filtered := out[:0:0]
		for _, s := range out {
			if s.V >= lo && s.V <= hi {
				filtered = append(filtered, s)
			}
		}
		out = filtered
	}
	if opts.Count > 0 && len(out) > opts.Count {
		out = out[:opts.Count]
	}
	return out
}

// Range implements `RANGE key from to [...]`.
func Range(db *metricsdb.Database, key string, from, to int64, opts RangeOptions) ([]chunk.Sample, []Bucket, error) {
	s, ok := db.Lookup(key)
	if !ok {
		return nil, nil, ErrNotFound
	}
	samples := s.Range(from, to)
	samples = applyRangeFilters(samples, opts)
	if opts.Aggregation != nil {
		return nil, AggregateRange(samples, from, to, *opts.Aggregation), nil
	}
	return samples, nil, nil
}

// MRangeResult is one series' range scan, for MRANGE's response shape.
type MRangeResult struct {
	Labels  labelset.LabelSet
	Samples []chunk.Sample
	Buckets []Bucket
}

// MRange implements `MRANGE from to FILTER ... [...]`, returning results
// deterministically ordered by series fingerprint.
func MRange(db *metricsdb.Database, from, to int64, groups filter.Groups, opts RangeOptions) []MRangeResult {
	ids := db.SelectIDs(groups)
	out := make([]MRangeResult, 0, len(ids))
	for _, id := range ids {
		s, ok := db.SeriesByID(id)
		if !ok {
			continue
		}
		samples := applyRangeFilters(s.Range(from, to), opts)
		r := MRangeResult{Labels: s.Labels}
		if opts.Aggregation != nil {
			r.Buckets = AggregateRange(samples, from, to, *opts.Aggregation)
		} else {
			r.Samples = samples
		}
		out = append(out, r)
	}
	sortMRangeByFingerprint(out)
	return out
}

func sortMRangeByFingerprint(rs []MRangeResult) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j-1].Labels.Fingerprint() > rs[j].Labels.Fingerprint(); j-- {
			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
}

// Query implements `QUERY expr [time] [TIMEOUT d]`; there is no STEP
// parameter, and the instant lookbehind is engine.DefaultLookbehind.
func Query(ctx context.Context, db *metricsdb.Database, expr string, t int64, timeout time.Duration) (engine.Vector, error) {
	v, err := db.Engine().InstantQuery(ctx, expr, t, timeout)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return v, nil
}

// QueryRange implements `QUERY_RANGE expr start end [STEP d] [TIMEOUT d]`.
func QueryRange(ctx context.Context, db *metricsdb.Database, expr string, start, end, step int64, timeout time.Duration) (engine.Matrix, error) {
	m, err := db.Engine().RangeQuery(ctx, expr, start, end, step, timeout)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return m, nil
}

func mapEngineError(err error) error {
	if err == engine.ErrTimeout {
		return wrapErr(KindQueryTimeout, err, "query")
	}
	return wrapErr(KindParseError, err, "query")
}

// Card implements `CARD [START a] [END b] FILTER ...`. START/END are not
// applied: the count covers every series matching the filter.
func Card(db *metricsdb.Database, groups filter.Groups) uint64 {
	return db.Index().Cardinality(groups)
}

// LabelNames implements `LABELNAMES`.
func LabelNames(db *metricsdb.Database) []string {
	return db.Index().LabelNames()
}

// LabelValues implements `LABELVALUES label`.
func LabelValues(db *metricsdb.Database, name string, limit int) []string {
	return db.Index().LabelValues(name, limit)
}

// QueryIndex implements `QUERYINDEX FILTER ...`, returning the matched
// series' labels (stable-sorted by fingerprint, as MRange does).
func QueryIndex(db *metricsdb.Database, groups filter.Groups) []labelset.LabelSet {
	ids := db.SelectIDs(groups)
	out := make([]labelset.LabelSet, 0, len(ids))
	for _, id := range ids {
		if ls, ok := db.Index().Labels(id); ok {
			out = append(out, ls)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Fingerprint() > out[j].Fingerprint(); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Stats implements `STATS [LABEL ...] [LIMIT n]`.
func Stats(db *metricsdb.Database, label string, limit int) index.Stats {
	return db.Index().ComputeStats(label, limit)
}
