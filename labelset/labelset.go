package labelset

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// MetricName is the reserved label holding the series' metric name.
const MetricName = "__name__"

// MaxValueLen caps an individual label value's length in bytes.
const MaxValueLen = 4096

var nameRE = regexp.MustCompile(`^[A-Za-z_:][A-Za-z0-9_:.]*$`)

// Label is a single name=value pair. Name/Value are the canonical strings
// resolved back out of the Builder's Interner at build time; nameH/valueH
// are the handles backing them, kept so LabelSet.Release can give the
// interner's refcounts back when a series owning this LabelSet is
// destroyed. Labels assembled outside the Builder (e.g. engine label
// transforms) carry zero handles and Release on them is a no-op.
type Label struct {
	Name  string
	Value string

	nameH  Handle
	valueH Handle
}

// DefaultInterner is the process-wide string interner every Builder
// canonicalizes label names/values through unless constructed with
// NewBuilderWithInterner, matching the single process-wide singleton
// spec.md describes for the interner.
var DefaultInterner = NewInterner()

// LabelSet is a sorted-by-name, name-unique collection of labels,
// including the reserved __name__ label when present.
type LabelSet struct {
	labels []Label
}

// Len returns the number of labels, including __name__ if set.
func (ls LabelSet) Len() int { return len(ls.labels) }

// Get returns the value for name and whether it was present.
func (ls LabelSet) Get(name string) (string, bool) {
	i := sort.Search(len(ls.labels), func(i int) bool { return ls.labels[i].Name >= name })
	if i < len(ls.labels) && ls.labels[i].Name == name {
		return ls.labels[i].Value, true
	}
	return "", false
}

// MetricName returns the value of the reserved __name__ label, if any.
func (ls LabelSet) MetricName() string {
	v, _ := ls.Get(MetricName)
	return v
}

// Range calls f for every label in sorted order.
func (ls LabelSet) Range(f func(Label)) {
	for _, l := range ls.labels {
		f(l)
	}
}

// All returns a copy of the underlying labels.
func (ls LabelSet) All() []Label {
	out := make([]Label, len(ls.labels))
	copy(out, ls.labels)
	return out
}

// Release returns every label's name/value handles to in, decrementing
// their refcounts. Call once, when the LabelSet's owning series is
// destroyed (its datastore key deleted) or replaced by ALTER's label
// path. Labels not built through an interning Builder carry zero handles
// and are skipped.
func (ls LabelSet) Release(in *Interner) {
	for _, l := range ls.labels {
		if l.nameH != 0 {
			in.Release(l.nameH)
		}
		if l.valueH != 0 {
			in.Release(l.valueH)
		}
	}
}

// Fingerprint computes a stable 64-bit hash over the sorted canonical
// (name,value) pairs. Two LabelSets with equal fingerprint are guaranteed
// byte-for-byte equal because they were built by the same canonicalizing
// Builder.
func (ls LabelSet) Fingerprint() uint64 {
	d := xxhash.New()
	for _, l := range ls.labels {
		_, _ = d.WriteString(l.Name)
		_, _ = d.Write([]byte{0xff})
		_, _ = d.WriteString(l.Value)
		_, _ = d.Write([]byte{0xff})
	}
	return d.Sum64()
}

// Builder constructs a canonical LabelSet: sorted by name, duplicate names
// rejected, names validated against the Prometheus-compatible identifier
// grammar, values capped at MaxValueLen, and every name/value canonicalized
// through an Interner so equal strings share one backing allocation.
type Builder struct {
	labels   []Label
	seen     map[string]struct{}
	err      error
	interner *Interner
}

// NewBuilder returns an empty Builder that interns through DefaultInterner.
func NewBuilder() *Builder {
	return NewBuilderWithInterner(DefaultInterner)
}

// NewBuilderWithInterner returns an empty Builder that interns through in
// instead of DefaultInterner — mainly for tests that want an Interner
// they can inspect in isolation.
func NewBuilderWithInterner(in *Interner) *Builder {
	return &Builder{seen: make(map[string]struct{}, 8), interner: in}
}

// Add validates and appends a label. The first error encountered is
// sticky and returned by Build.
func (b *Builder) Add(name, value string) *Builder {
	if b.err != nil {
		return b
	}
	if !nameRE.MatchString(name) {
		b.err = fmt.Errorf("labelset: invalid label name %q", name)
		return b
	}
	if len(value) > MaxValueLen {
		b.err = fmt.Errorf("labelset: label value for %q exceeds %d bytes", name, MaxValueLen)
		return b
	}
	if _, dup := b.seen[name]; dup {
		b.err = fmt.Errorf("labelset: duplicate label name %q", name)
		return b
	}
	b.seen[name] = struct{}{}
	nameH := b.interner.Intern(name)
	valueH := b.interner.Intern(value)
	b.labels = append(b.labels, Label{
		Name:   b.interner.Resolve(nameH),
		Value:  b.interner.Resolve(valueH),
		nameH:  nameH,
		valueH: valueH,
	})
	return b
}

// AddMetricName is a convenience for Add(MetricName, name).
func (b *Builder) AddMetricName(name string) *Builder {
	return b.Add(MetricName, name)
}

// Build sorts by name and returns the canonical LabelSet, or the first
// validation error encountered.
func (b *Builder) Build() (LabelSet, error) {
	if b.err != nil {
		return LabelSet{}, b.err
	}
	out := make([]Label, len(b.labels))
	copy(out, b.labels)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return LabelSet{labels: out}, nil
}

// FromMap builds a LabelSet from an unordered map, for call sites (tests,
// command adapters) that already have validated names.
func FromMap(m map[string]string) (LabelSet, error) {
	b := NewBuilder()
	for k, v := range m {
		b.Add(k, v)
	}
	return b.Build()
}

// FromPairs builds a LabelSet from a flat name,value,name,value... slice.
func FromPairs(pairs ...string) (LabelSet, error) {
	if len(pairs)%2 != 0 {
		return LabelSet{}, fmt.Errorf("labelset: odd number of name/value arguments")
	}
	b := NewBuilder()
	for i := 0; i < len(pairs); i += 2 {
		b.Add(pairs[i], pairs[i+1])
	}
	return b.Build()
}
