package index

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/flashts/flashts/labelset"
)

// Index is the process-wide inverted label index: postings from
// (label-name, label-value) to series-id bitmaps, plus a per-name union
// bitmap for has-label matching; stats are computed by walking the postings
//
// Grounded on prometheus-prometheus/tsdb/index/postings.go's MemPostings:
// a map-of-maps guarded by one RWMutex, with roaring bitmaps in place of
// Prometheus's on-disk postings lists (github.com/RoaringBitmap/roaring/
// roaring64, already exercised by the pack's own postings.go).
type Index struct {
	mu sync.RWMutex

	// postings[name][value] is the set of series ids carrying that pair.
	postings map[string]map[string]*roaring64.Bitmap

	// labelSeries[name] is the union of every value's bitmap under name,
	// maintained incrementally so "has label" / absent-label matching
	// doesn't need an O(values) union on every query.
	labelSeries map[string]*roaring64.Bitmap

	all *roaring64.Bitmap

	// series tracks each id's current labels so Remove/Replace can erase
	// exactly the postings that were registered for it, without relying
	// on the caller to remember.
	series map[uint64]labelset.LabelSet
}

// New returns an empty, ready-to-use Index.
func New() *Index {
	return &Index{
		postings:    make(map[string]map[string]*roaring64.Bitmap, 64),
		labelSeries: make(map[string]*roaring64.Bitmap, 64),
		all:         roaring64.New(),
		series:      make(map[uint64]labelset.LabelSet, 1024),
	}
}

func (ix *Index) addFor(id uint64, name, value string) {
	byVal, ok := ix.postings[name]
	if !ok {
		byVal = make(map[string]*roaring64.Bitmap, 4)
		ix.postings[name] = byVal
	}
	bm, ok := byVal[value]
	if !ok {
		bm = roaring64.New()
		byVal[value] = bm
	}
	bm.Add(id)

	ls, ok := ix.labelSeries[name]
	if !ok {
		ls = roaring64.New()
		ix.labelSeries[name] = ls
	}
	ls.Add(id)
}

func (ix *Index) removeFor(id uint64, name, value string) {
	if byVal, ok := ix.postings[name]; ok {
		if bm, ok := byVal[value]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(byVal, value)
			}
		}
		if len(byVal) == 0 {
			delete(ix.postings, name)
		}
	}
	// labelSeries[name] can only be recomputed cheaply by re-unioning; do
	// it lazily only when every value under name is gone.
	if _, stillHasName := ix.postings[name]; !stillHasName {
		delete(ix.labelSeries, name)
		return
	}
	if ls, ok := ix.labelSeries[name]; ok {
		ls.Remove(id)
	}
}

// Insert registers id under every (name,value) pair in labels. After this
// call every pair in labels maps back to id, and
// id is only found under pairs present in labels.
func (ix *Index) Insert(id uint64, labels labelset.LabelSet) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	labels.Range(func(l labelset.Label) {
		ix.addFor(id, l.Name, l.Value)
	})
	ix.all.Add(id)
	ix.series[id] = labels
}

// Remove unregisters id from every posting its (cached) labels touch, per
// remove(series_id, labelset).
func (ix *Index) Remove(id uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	labels, ok := ix.series[id]
	if !ok {
		return
	}
	labels.Range(func(l labelset.Label) {
		ix.removeFor(id, l.Name, l.Value)
	})
	ix.all.Remove(id)
	delete(ix.series, id)
}

// Replace atomically swaps id's registered labels from old to new so that
// label-alter operations re-register postings as a single step.
func (ix *Index) Replace(id uint64, newLabels labelset.LabelSet) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.series[id]; ok {
		old.Range(func(l labelset.Label) {
			ix.removeFor(id, l.Name, l.Value)
		})
	}
	newLabels.Range(func(l labelset.Label) {
		ix.addFor(id, l.Name, l.Value)
	})
	ix.series[id] = newLabels
}

// postingsForLocked returns a fresh copy of the bitmap for (name,value), or an
// empty bitmap if absent. Callers must hold at least a read lock.
func (ix *Index) postingsForLocked(name, value string) *roaring64.Bitmap {
	if byVal, ok := ix.postings[name]; ok {
		if bm, ok := byVal[value]; ok {
			return bm.Clone()
		}
	}
	return roaring64.New()
}

func (ix *Index) hasLabelLocked(name string) *roaring64.Bitmap {
	if bm, ok := ix.labelSeries[name]; ok {
		return bm.Clone()
	}
	return roaring64.New()
}

// matchBitmapLocked evaluates a single matcher against the index: direct lookup
// for `=`, complement for `!=`, a literal-union fast path plus value-scan
// for `=~`/`!~`, and Prometheus absent-label semantics for empty-string
// comparisons.
func (ix *Index) matchBitmapLocked(m *Matcher) *roaring64.Bitmap {
	switch m.Type {
	case MatchEqual:
		if m.Value == "" {
			out := ix.all.Clone()
			out.AndNot(ix.hasLabelLocked(m.Name))
			return out
		}
		return ix.postingsForLocked(m.Name, m.Value)

	case MatchNotEqual:
		if m.Value == "" {
			return ix.hasLabelLocked(m.Name)
		}
		out := ix.hasLabelLocked(m.Name)
		out.AndNot(ix.postingsForLocked(m.Name, m.Value))
		return out

	case MatchRegexp, MatchNotRegexp:
		matched := ix.regexMatchLocked(m)
		if m.Type == MatchRegexp {
			return matched
		}
		out := ix.hasLabelLocked(m.Name)
		out.AndNot(matched)
		return out

	default:
		return roaring64.New()
	}
}

// regexMatchLocked computes the union of postings for every value under
// m.Name that the matcher's regex accepts, including the absent-label
// bitmap when the regex accepts the empty string.
func (ix *Index) regexMatchLocked(m *Matcher) *roaring64.Bitmap {
	out := roaring64.New()

	if lits, ok := literalAlternatives(m.Value); ok {
		for _, lit := range lits {
			out.Or(ix.postingsForLocked(m.Name, lit))
		}
	} else {
		byVal := ix.postings[m.Name]
		for value, bm := range byVal {
			if m.re.MatchString(value) {
				out.Or(bm)
			}
		}
	}

	if m.matchesEmpty() {
		absent := ix.all.Clone()
		absent.AndNot(ix.hasLabelLocked(m.Name))
		out.Or(absent)
	}
	return out
}

// Select evaluates selector groups: AND across matchers within one group,
// OR across groups.
// Matchers within a group are evaluated smallest-posting-first to shrink
// intermediate sets as early as possible.
func (ix *Index) Select(groups [][]*Matcher) *roaring64.Bitmap {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	result := roaring64.New()
	for _, group := range groups {
		result.Or(ix.selectGroupLocked(group))
	}
	return result
}

func (ix *Index) selectGroupLocked(group []*Matcher) *roaring64.Bitmap {
	if len(group) == 0 {
		return ix.all.Clone()
	}

	bitmaps := make([]*roaring64.Bitmap, len(group))
	for i, m := range group {
		bitmaps[i] = ix.matchBitmapLocked(m)
	}
	sort.Slice(bitmaps, func(i, j int) bool {
		return bitmaps[i].GetCardinality() < bitmaps[j].GetCardinality()
	})

	out := bitmaps[0]
	for _, bm := range bitmaps[1:] {
		out.And(bm)
	}
	return out
}

// LabelNames returns every distinct label name present in the index,
// sorted.
func (ix *Index) LabelNames() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	names := make([]string, 0, len(ix.postings))
	for n := range ix.postings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LabelValues returns every distinct value seen for name, sorted, capped
// at limit (0 means unbounded).
func (ix *Index) LabelValues(name string, limit int) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	byVal, ok := ix.postings[name]
	if !ok {
		return nil
	}
	values := make([]string, 0, len(byVal))
	for v := range byVal {
		values = append(values, v)
	}
	sort.Strings(values)
	if limit > 0 && len(values) > limit {
		values = values[:limit]
	}
	return values
}

// Cardinality returns the number of distinct series matching groups.
func (ix *Index) Cardinality(groups [][]*Matcher) uint64 {
	return ix.Select(groups).GetCardinality()
}

// Labels returns the registered LabelSet for id, and whether id is known.
func (ix *Index) Labels(id uint64) (labelset.LabelSet, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ls, ok := ix.series[id]
	return ls, ok
}

// ExpandIDs drains bitmap into a sorted slice of series ids, the
// deterministic ordering that multi-series results need (e.g. MRANGE's
// fingerprint ordering is applied by the caller on top of this stable id
// order).
func ExpandIDs(bm *roaring64.Bitmap) []uint64 {
	return bm.ToArray()
}

// Stat is a single named cardinality/size measurement, mirroring
// prometheus-prometheus/tsdb/index.Stat.
type Stat struct {
	Name  string
	Count uint64
}

// Stats reports the top-N metrics (values of label __name__ when label ==
// "__name__" or label == ""), label names, and (name,value) pairs by
// cardinality, plus an estimated byte footprint.
type Stats struct {
	Metrics    []Stat
	Labels     []Stat
	ValuePairs []Stat
	EstBytes   uint64
}

// ComputeStats walks the index once under a read lock, grounded on
// prometheus-prometheus/tsdb/index/postings.go's Stats (bounded max-heaps
// per category instead of a full sort, so limit-N is O(log N) per entry).
func (ix *Index) ComputeStats(label string, limit int) Stats {
	if limit <= 0 {
		limit = 10
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	metrics := newMaxHeap(limit)
	labels := newMaxHeap(limit)
	pairs := newMaxHeap(limit)
	var estBytes uint64

	for name, byVal := range ix.postings {
		labels.push(Stat{Name: name, Count: uint64(len(byVal))})
		for value, bm := range byVal {
			card := bm.GetCardinality()
			pairs.push(Stat{Name: name + "=" + value, Count: card})
			estBytes += bm.GetSizeInBytes() + uint64(len(name)+len(value))
			if name == label || (label == "" && name == labelset.MetricName) {
				metrics.push(Stat{Name: value, Count: card})
			}
		}
	}

	return Stats{
		Metrics:    metrics.sorted(),
		Labels:     labels.sorted(),
		ValuePairs: pairs.sorted(),
		EstBytes:   estBytes,
	}
}

// maxHeap keeps the top-N Stat entries by Count using a bounded min-heap
// (evict the smallest once full), per prometheus-prometheus's same
// pattern in tsdb/index/postings.go.
type maxHeap struct {
	limit int
	h     statMinHeap
}

func newMaxHeap(limit int) *maxHeap {
	return &maxHeap{limit: limit}
}

func (m *maxHeap) push(s Stat) {
	if len(m.h) < m.limit {
		heap.Push(&m.h, s)
		return
	}
	if len(m.h) > 0 && s.Count > m.h[0].Count {
		heap.Pop(&m.h)
		heap.Push(&m.h, s)
	}
}

func (m *maxHeap) sorted() []Stat {
	out := append(statMinHeap(nil), m.h...)
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

type statMinHeap []Stat

func (h statMinHeap) Len() int            { return len(h) }
func (h statMinHeap) Less(i, j int) bool  { return h[i].Count < h[j].Count }
func (h statMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *statMinHeap) Push(x interface{}) { *h = append(*h, x.(Stat)) }
func (h *statMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
