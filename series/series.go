// Package series implements the per-series ordered chunk list: retention
// trim, duplicate-policy fold, IGNORE filtering, and alter. Grounded on
// store/default_metrics.go's Store/Query method shape, translated from SQL
// statements to in-memory chunk.Chunk operations.
package series

import (
	"fmt"
	"sort"
	"sync"

	"github.com/flashts/flashts/chunk"
	"github.com/flashts/flashts/labelset"
)

// Config is a series' mutable behavior
type Config struct {
	RetentionMs       int64
	ChunkSize         int
	Encoding          chunk.Encoding
	DuplicatePolicy   chunk.DuplicatePolicy
	IgnoreMaxTimeDiff int64 // <0 disables the IGNORE filter
	IgnoreMaxValDiff  float64
	Rounding          *chunk.Rounding
}

// DefaultConfig returns sane out-of-box values for a freshly created
// series.
func DefaultConfig() Config {
	return Config{
		RetentionMs:       0, // 0 means unbounded
		ChunkSize:         chunk.DefaultMaxSize,
		Encoding:          chunk.EncodingCompressed,
		DuplicatePolicy:   chunk.PolicyLast,
		IgnoreMaxTimeDiff: -1,
		IgnoreMaxValDiff:  0,
	}
}

// AddOutcome is the result of an explicit single-sample add.
type AddOutcome uint8

const (
	AddAccepted AddOutcome = iota
	AddBlocked
	AddIgnored
)

// Sample is re-exported for callers that don't want to import chunk directly.
type Sample = chunk.Sample

// Series owns an ordered, contiguous list of chunks for one labelset.
//
// Per-series mutation is guarded by mu: the concurrency fabric dispatches
// one writer at a time per series, so Series itself need not be
// lock-free, only safe to call from exactly one mutator plus concurrent
// readers.
type Series struct {
	mu sync.RWMutex

	ID     uint64
	Labels labelset.LabelSet
	Config Config

	chunks     []chunk.Chunk
	lastSample chunk.Sample
	hasSample  bool
}

// New creates an empty series with the given id, labels, and config.
func New(id uint64, labels labelset.LabelSet, cfg Config) *Series {
	return &Series{ID: id, Labels: labels, Config: cfg}
}

func (s *Series) targetChunk(ts int64) chunk.Chunk {
	if len(s.chunks) == 0 {
		return nil
	}
	// binary search for the last chunk whose FirstTS <= ts; chunks are
	// contiguous (chunks[i].LastTS < chunks[i+1].FirstTS), so the target
	// for any ts >= chunks[last].FirstTS is always the tail chunk.
	idx := sort.Search(len(s.chunks), func(i int) bool {
		return s.chunks[i].FirstTS() > ts
	})
	if idx == 0 {
		return s.chunks[0]
	}
	return s.chunks[idx-1]
}

func (s *Series) newChunk() chunk.Chunk {
	return chunk.New(s.Config.Encoding, s.Config.ChunkSize, s.Config.Rounding)
}

// ignored reports whether ts/v should be dropped by the IGNORE filter
// relative to the series' last accepted sample
func (s *Series) ignored(ts int64, v float64) bool {
	if s.Config.IgnoreMaxTimeDiff < 0 || !s.hasSample {
		return false
	}
	dt := ts - s.lastSample.TS
	if dt < 0 {
		dt = -dt
	}
	dv := v - s.lastSample.V
	if dv < 0 {
		dv = -dv
	}
	return dt <= s.Config.IgnoreMaxTimeDiff && dv <= s.Config.IgnoreMaxValDiff
}

// TrimRetention drops samples older than now-retention_ms across the
// series' chunk list, dropping fully-covered chunks and re-encoding the one
// partially covered chunk, if any.
func (s *Series) TrimRetention(now int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trimRetentionLocked(now)
}

func (s *Series) trimRetentionLocked(now int64) int {
	if s.Config.RetentionMs <= 0 || len(s.chunks) == 0 {
		return 0
	}
	cutoff := now - s.Config.RetentionMs
	removed := 0
	for len(s.chunks) > 0 && s.chunks[0].LastTS() < cutoff {
		removed += s.chunks[0].Len()
		s.chunks = s.chunks[1:]
	}
	if len(s.chunks) > 0 {
		removed += s.chunks[0].TrimBefore(cutoff)
	}
	return removed
}

// Add appends a single explicit sample, applying retention trim, the IGNORE
// filter, and the series' duplicate policy.
func (s *Series) Add(ts int64, v float64, now int64) (AddOutcome, error) {
	if ts < 0 {
		return AddBlocked, fmt.Errorf("series: negative timestamp %d", ts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimRetentionLocked(now)

	if s.ignored(ts, v) {
		return AddIgnored, nil
	}

	tc := s.targetChunk(ts)
	if tc == nil {
		tc = s.newChunk()
		s.chunks = append(s.chunks, tc)
	}

	if s.Config.DuplicatePolicy == chunk.PolicyBlock {
		res := tc.Push(ts, v)
		switch res {
		case chunk.Added:
			s.recordLast(ts, v)
			return AddAccepted, nil
		case chunk.Duplicate:
			return AddBlocked, fmt.Errorf("series: duplicate timestamp %d rejected by BLOCK policy", ts)
		case chunk.OutOfOrder:
			return AddBlocked, fmt.Errorf("series: out-of-order timestamp %d rejected by BLOCK policy", ts)
		case chunk.Full:
			next := s.newChunk()
			s.chunks = append(s.chunks, next)
			next.Push(ts, v)
			s.recordLast(ts, v)
			return AddAccepted, nil
		}
	}

	res := tc.Upsert(ts, v, s.Config.DuplicatePolicy)
	switch res {
	case chunk.UpsertAdded, chunk.UpsertUpdated:
		s.recordLast(ts, foldedValueAt(tc, ts, v))
		return AddAccepted, nil
	case chunk.UpsertFull:
		next := s.newChunk()
		s.chunks = append(s.chunks, next)
		next.Upsert(ts, v, s.Config.DuplicatePolicy)
		s.recordLast(ts, foldedValueAt(next, ts, v))
		return AddAccepted, nil
	case chunk.UpsertBlocked:
		return AddBlocked, fmt.Errorf("series: duplicate timestamp %d rejected by BLOCK policy", ts)
	default: // UpsertIgnored
		return AddIgnored, nil
	}
}

// foldedValueAt reads back the value Upsert actually folded into tc at ts,
// since a non-BLOCK duplicate policy (MAX/MIN/SUM/FIRST/...) may have
// folded v against an existing sample rather than storing it verbatim.
// fallback is returned if ts can't be found (shouldn't happen for a chunk
// Upsert just reported as added/updated into).
func foldedValueAt(tc chunk.Chunk, ts int64, fallback float64) float64 {
	it := tc.Range(ts, ts)
	if it.Next() {
		return it.At().V
	}
	return fallback
}

func (s *Series) recordLast(ts int64, v float64) {
	if !s.hasSample || ts >= s.lastSample.TS {
		s.lastSample = chunk.Sample{TS: ts, V: v}
		s.hasSample = true
	}
}

// IngestResult reports batch-fold outcomes for Ingest.
type IngestResult struct {
	Accepted int
	Total    int
}

// Ingest sorts, retention-filters, intra-batch duplicate-folds, and applies
// a batch of samples to this series' chunk list. Per-chunk fan-out across
// series is the concurrency fabric's job (package concurrent); Ingest
// itself is single-threaded against one series.
func (s *Series) Ingest(batch []Sample, now int64) IngestResult {
	total := len(batch)
	if total == 0 {
		return IngestResult{}
	}

	sorted := append([]Sample(nil), batch...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TS < sorted[j].TS })

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimRetentionLocked(now)

	cutoff := int64(0)
	if s.Config.RetentionMs > 0 {
		cutoff = now - s.Config.RetentionMs
	}

	folded := make([]Sample, 0, len(sorted))
	for _, smp := range sorted {
		if s.Config.RetentionMs > 0 && smp.TS < cutoff {
			continue
		}
		if n := len(folded); n > 0 && folded[n-1].TS == smp.TS {
			newV, ok := chunk.Fold(s.Config.DuplicatePolicy, folded[n-1].V, smp.V)
			if ok {
				folded[n-1].V = newV
			}
			continue
		}
		folded = append(folded, smp)
	}

	accepted := 0
	for _, smp := range folded {
		if s.ignored(smp.TS, smp.V) {
			continue
		}
		tc := s.targetChunk(smp.TS)
		if tc == nil {
			tc = s.newChunk()
			s.chunks = append(s.chunks, tc)
		}
		res := tc.Upsert(smp.TS, smp.V, s.Config.DuplicatePolicy)
		target := tc
		if res == chunk.UpsertFull {
			next := s.newChunk()
			s.chunks = append(s.chunks, next)
			res = next.Upsert(smp.TS, smp.V, s.Config.DuplicatePolicy)
			target = next
		}
		if res == chunk.UpsertAdded || res == chunk.UpsertUpdated {
			accepted++
			s.recordLast(smp.TS, foldedValueAt(target, smp.TS, smp.V))
		}
	}

	return IngestResult{Accepted: accepted, Total: total}
}

// Range returns every sample with from <= ts <= to, across all chunks,
// binary-searching for the first chunk whose LastTS >= from and iterating
// until a chunk's FirstTS > to.
func (s *Series) Range(from, to int64) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	startIdx := sort.Search(len(s.chunks), func(i int) bool {
		return s.chunks[i].LastTS() >= from
	})

	var out []Sample
	for i := startIdx; i < len(s.chunks); i++ {
		c := s.chunks[i]
		if c.FirstTS() > to {
			break
		}
		it := c.Range(from, to)
		for it.Next() {
			out = append(out, it.At())
		}
	}
	return out
}

// Delete removes samples with from <= ts <= to: chunks fully covered are
// dropped outright; a partially-covered chunk is decoded, filtered, and
// re-encoded.
func (s *Series) Delete(from, to int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		switch {
		case c.LastTS() < from || c.FirstTS() > to:
			kept = append(kept, c)
		case c.FirstTS() >= from && c.LastTS() <= to:
			removed += c.Len()
		default:
			all := c.All()
			survivors := all[:0]
			for _, smp := range all {
				if smp.TS >= from && smp.TS <= to {
					removed++
					continue
				}
				survivors = append(survivors, smp)
			}
			nc := s.newChunk()
			for _, smp := range survivors {
				nc.Push(smp.TS, smp.V)
			}
			kept = append(kept, nc)
		}
	}
	s.chunks = kept
	return removed
}

// ConfigDelta is a partial update applied by Alter; nil fields are left
// unchanged.
type ConfigDelta struct {
	RetentionMs       *int64
	ChunkSize         *int
	DuplicatePolicy   *chunk.DuplicatePolicy
	IgnoreMaxTimeDiff *int64
	IgnoreMaxValDiff  *float64
}

// Alter applies delta. Encoding is not part of ConfigDelta: it is
// immutable once a chunk exists, so it can only be set at creation.
func (s *Series) Alter(delta ConfigDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if delta.RetentionMs != nil {
		s.Config.RetentionMs = *delta.RetentionMs
	}
	if delta.ChunkSize != nil {
		s.Config.ChunkSize = *delta.ChunkSize
	}
	if delta.DuplicatePolicy != nil {
		s.Config.DuplicatePolicy = *delta.DuplicatePolicy
	}
	if delta.IgnoreMaxTimeDiff != nil {
		s.Config.IgnoreMaxTimeDiff = *delta.IgnoreMaxTimeDiff
	}
	if delta.IgnoreMaxValDiff != nil {
		s.Config.IgnoreMaxValDiff = *delta.IgnoreMaxValDiff
	}
	return nil
}

// SetLabels atomically replaces this series' labels; callers own
// re-registering postings under the index's own lock so label changes
// re-register postings atomically. The replaced LabelSet's interned
// handles are released back to labelset.DefaultInterner.
func (s *Series) SetLabels(labels labelset.LabelSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.Labels
	s.Labels = labels
	old.Release(labelset.DefaultInterner)
}

// Release returns this series' labels' interned handles to
// labelset.DefaultInterner. Called once, when the series is destroyed
// (its datastore key deleted).
func (s *Series) Release() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.Labels.Release(labelset.DefaultInterner)
}

// Len returns the total sample count across all chunks.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.chunks {
		n += c.Len()
	}
	return n
}

// FirstLast returns the series' overall first and last timestamps, and
// whether the series holds any samples at all.
func (s *Series) FirstLast() (first, last int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chunks) == 0 {
		return 0, 0, false
	}
	return s.chunks[0].FirstTS(), s.chunks[len(s.chunks)-1].LastTS(), true
}

// LastSample returns the most recently accepted sample, if any.
func (s *Series) LastSample() (chunk.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSample, s.hasSample
}
