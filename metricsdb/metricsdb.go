// Package metricsdb is the process-wide facade: the series-id allocator,
// the keyspace (datastore key -> series), the label index, and the query
// engine, wired together behind a single constructor the way a storage
// singleton wires its underlying client. New is an injectable factory
// rather than a package-level singleton, so callers decide whether to
// hold one Database per process or one per test.
package metricsdb

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flashts/flashts/engine"
	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/series"
)

// Database owns every piece of global state the engine needs: the
// series-id allocator (a single atomic counter, never reused), the
// keyspace mapping a datastore key to its series, the label index, and
// the engine evaluating queries over both.
type Database struct {
	nextID uint64 // atomic

	mu         sync.RWMutex
	byKey      map[string]uint64
	byID       map[uint64]*series.Series
	idx        *index.Index
	eng        *engine.Engine
	nowMs      func() int64
	defaultCfg series.Config
}

// Options configures a new Database.
type Options struct {
	EngineOptions engine.Options
	// Now returns the current time in ms epoch; overridable for
	// deterministic tests (nil means a clock that always returns 0).
	Now func() int64
	// DefaultSeriesConfig is the config implicit-creation paths (ADD,
	// INCRBY, remote-write) fall back to when the caller supplies none.
	// Zero value means "use series.DefaultConfig()".
	DefaultSeriesConfig series.Config
}

// New constructs an empty Database, wiring a fresh label index and query
// engine around it.
func New(opts Options) *Database {
	defaultCfg := opts.DefaultSeriesConfig
	if defaultCfg == (series.Config{}) {
		defaultCfg = series.DefaultConfig()
	}
	db := &Database{
		byKey:      make(map[string]uint64),
		byID:       make(map[uint64]*series.Series),
		idx:        index.New(),
		nowMs:      opts.Now,
		defaultCfg: defaultCfg,
	}
	if db.nowMs == nil {
		db.nowMs = func() int64 { return 0 }
	}
	db.eng = engine.New(db, db.idx, opts.EngineOptions)
	return db
}

// Engine exposes the wired query engine for QUERY/QUERY_RANGE commands.
func (db *Database) Engine() *engine.Engine { return db.eng }

// Index exposes the wired label index for LABELNAMES/LABELVALUES/STATS.
func (db *Database) Index() *index.Index { return db.idx }

// SeriesByID implements engine.SeriesSource.
func (db *Database) SeriesByID(id uint64) (*series.Series, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	s, ok := db.byID[id]
	return s, ok
}

// SelectIDs implements engine.SeriesSource by delegating to the index.
func (db *Database) SelectIDs(groups [][]*index.Matcher) []uint64 {
	bm := db.idx.Select(groups)
	return index.ExpandIDs(bm)
}

// Lookup resolves a datastore key to its series, for explicit
// single-series commands (ADD, GET, RANGE, ...).
func (db *Database) Lookup(key string) (*series.Series, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	id, ok := db.byKey[key]
	if !ok {
		return nil, false
	}
	return db.byID[id], true
}

// Create registers a brand-new series under key, failing if key already
// exists. Postings are registered before the
// series becomes visible under its key, so Invariant 1 (series
// membership <=> posting membership) holds the instant Lookup can see it.
func (db *Database) Create(key string, labels labelset.LabelSet, cfg series.Config) (*series.Series, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.byKey[key]; exists {
		return nil, fmt.Errorf("metricsdb: key %q already exists", key)
	}

	id := atomic.AddUint64(&db.nextID, 1)
	s := series.New(id, labels, cfg)
	db.idx.Insert(id, labels)
	db.byID[id] = s
	db.byKey[key] = id
	return s, nil
}

// GetOrCreate returns key's series, creating it with cfg/labels if it
// doesn't exist yet — the implicit-creation path ADD/INCRBY take when
// the key is new.
func (db *Database) GetOrCreate(key string, labels labelset.LabelSet, cfg series.Config) (*series.Series, bool, error) {
	if s, ok := db.Lookup(key); ok {
		return s, false, nil
	}
	s, err := db.Create(key, labels, cfg)
	if err != nil {
		// lost a race with a concurrent Create; fall through to Lookup.
		if existing, ok := db.Lookup(key); ok {
			return existing, false, nil
		}
		return nil, false, err
	}
	return s, true, nil
}

// SetLabels replaces a series' labels and atomically re-registers its
// postings.
func (db *Database) SetLabels(key string, labels labelset.LabelSet) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	id, ok := db.byKey[key]
	if !ok {
		return fmt.Errorf("metricsdb: key %q does not exist", key)
	}
	s := db.byID[id]
	db.idx.Replace(id, labels)
	s.SetLabels(labels)
	return nil
}

// Delete removes key's series entirely: unregisters its postings, releases
// its labels' interned handles, then drops it from the keyspace.
func (db *Database) Delete(key string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	id, ok := db.byKey[key]
	if !ok {
		return false
	}
	db.idx.Remove(id)
	if s, ok := db.byID[id]; ok {
		s.Release()
	}
	delete(db.byID, id)
	delete(db.byKey, key)
	return true
}

// Now returns the configured clock's current time in ms epoch.
func (db *Database) Now() int64 { return db.nowMs() }

// DefaultSeriesConfig returns the config implicit-creation paths fall
// back to, per Options.DefaultSeriesConfig.
func (db *Database) DefaultSeriesConfig() series.Config { return db.defaultCfg }
