// Package chunk implements bounded-size, time-ordered sample chunks: a
// Gorilla-style compressed encoding (delta-of-delta timestamps, XOR'd
// values) and a raw uncompressed fallback, both behind a common Chunk
// interface. Grounded on prometheus-prometheus/tsdb/chunkenc's
// Chunk/Appender/Iterator contract.
package chunk

import (
	"fmt"
	"math"
)

// Sample is a single (timestamp, value) point. Timestamps are ms epoch.
type Sample struct {
	TS int64
	V  float64
}

// Encoding identifies a chunk's on-wire sample codec.
type Encoding uint8

const (
	EncodingCompressed Encoding = iota
	EncodingUncompressed
)

func (e Encoding) String() string {
	switch e {
	case EncodingCompressed:
		return "compressed"
	case EncodingUncompressed:
		return "uncompressed"
	default:
		return "unknown"
	}
}

// DefaultMaxSize is the default chunk byte budget.
const DefaultMaxSize = 4096

// PushResult is the outcome of an explicit, ordering-sensitive Push.
type PushResult uint8

const (
	Added PushResult = iota
	Full
	OutOfOrder
	Duplicate
)

// UpsertResult is the outcome of a duplicate-policy-aware Upsert.
type UpsertResult uint8

const (
	UpsertAdded UpsertResult = iota
	UpsertUpdated
	UpsertIgnored
	UpsertFull
	UpsertBlocked
)

// DuplicatePolicy selects the fold rule applied when two samples share a
// timestamp
type DuplicatePolicy uint8

const (
	PolicyBlock DuplicatePolicy = iota
	PolicyFirst
	PolicyLast
	PolicyMin
	PolicyMax
	PolicySum
)

func (p DuplicatePolicy) String() string {
	switch p {
	case PolicyBlock:
		return "BLOCK"
	case PolicyFirst:
		return "FIRST"
	case PolicyLast:
		return "LAST"
	case PolicyMin:
		return "MIN"
	case PolicyMax:
		return "MAX"
	case PolicySum:
		return "SUM"
	default:
		return "UNKNOWN"
	}
}

// ParseDuplicatePolicy parses the command-line spelling of a policy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "BLOCK":
		return PolicyBlock, nil
	case "FIRST":
		return PolicyFirst, nil
	case "LAST":
		return PolicyLast, nil
	case "MIN":
		return PolicyMin, nil
	case "MAX":
		return PolicyMax, nil
	case "SUM":
		return PolicySum, nil
	default:
		return 0, fmt.Errorf("chunk: unknown duplicate policy %q", s)
	}
}

// Fold applies policy to an existing value and an incoming value for the
// same timestamp, returning the resulting value and whether the sample
// should be considered written (false for BLOCK, which the caller must
// turn into an error at the request boundary).
func Fold(policy DuplicatePolicy, oldV, newV float64) (float64, bool) {
	switch policy {
	case PolicyBlock:
		return oldV, false
	case PolicyFirst:
		return oldV, true
	case PolicyLast:
		return newV, true
	case PolicyMin:
		return math.Min(oldV, newV), true
	case PolicyMax:
		return math.Max(oldV, newV), true
	case PolicySum:
		return oldV + newV, true
	default:
		return newV, true
	}
}

// Rounding pre-quantizes a value before it is encoded
type Rounding struct {
	SignificantDigits int // round-to-even in scaled integer space, -1 if unset
	DecimalDigits     int // round-half-away-from-zero, -1 if unset
}

// Apply returns v rounded per the configured digit policy, or v unchanged.
func (r *Rounding) Apply(v float64) float64 {
	if r == nil {
		return v
	}
	if r.DecimalDigits >= 0 {
		scale := math.Pow(10, float64(r.DecimalDigits))
		return roundHalfAwayFromZero(v*scale) / scale
	}
	if r.SignificantDigits >= 0 {
		return roundSignificant(v, r.SignificantDigits)
	}
	return v
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return math.Floor(v + 0.5)
	}
	return math.Ceil(v - 0.5)
}

func roundSignificant(v float64, digits int) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	neg := v < 0
	if neg {
		v = -v
	}
	mag := math.Ceil(math.Log10(v))
	scale := math.Pow(10, float64(digits)-mag)
	// round-to-even at the scaled integer boundary
	scaled := v * scale
	floor := math.Floor(scaled)
	diff := scaled - floor
	var rounded float64
	switch {
	case diff < 0.5:
		rounded = floor
	case diff > 0.5:
		rounded = floor + 1
	default:
		if math.Mod(floor, 2) == 0 {
			rounded = floor
		} else {
			rounded = floor + 1
		}
	}
	out := rounded / scale
	if neg {
		out = -out
	}
	return out
}

// Iterator walks a chunk's decoded samples in ascending timestamp order.
type Iterator interface {
	Next() bool
	At() Sample
}

// Chunk is the codec contract shared by the compressed (Gorilla) and
// uncompressed encodings. Implementations are append-only: Upsert may
// trigger a full decode+re-encode when the target timestamp isn't the
// most recent sample, but Chunk never supports arbitrary random-access
// mutation.
type Chunk interface {
	Encoding() Encoding
	MaxSize() int
	Len() int
	FirstTS() int64
	LastTS() int64
	Size() int

	// Push appends an explicit, strictly-ordered sample.
	Push(ts int64, v float64) PushResult
	// Upsert appends or folds a sample per policy.
	Upsert(ts int64, v float64, policy DuplicatePolicy) UpsertResult

	// Range returns an iterator over samples with from <= ts <= to.
	Range(from, to int64) Iterator
	// All decodes every sample in the chunk, in ascending order.
	All() []Sample

	// TrimBefore drops all samples with ts < cutoff, returning the count
	// removed. The chunk's FirstTS/LastTS/Len are updated in place.
	TrimBefore(cutoff int64) int

	// Split returns a fresh, empty tail chunk sharing this chunk's
	// encoding, budget, and rounding; the receiver itself is left unchanged.
	Split() Chunk

	// Serialize produces an opaque, self-describing byte blob (a leading
	// encoding byte, then the sample count and the encoding's own payload)
	// suitable for persistence.
	Serialize() []byte

	Clone() Chunk
}

// New creates an empty chunk of the given encoding, byte budget, and
// optional rounding policy.
func New(enc Encoding, maxSize int, rounding *Rounding) Chunk {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	switch enc {
	case EncodingUncompressed:
		return newUncompressedChunk(maxSize, rounding)
	default:
		return newXORChunk(maxSize, rounding)
	}
}

// Deserialize reconstructs a Chunk from a blob produced by Serialize.
// Unknown trailing bytes are tolerated; an unknown encoding byte is fatal,
//.
func Deserialize(blob []byte) (Chunk, error) {
	if len(blob) < 1 {
		return nil, fmt.Errorf("chunk: empty blob")
	}
	switch Encoding(blob[0]) {
	case EncodingUncompressed:
		return deserializeUncompressed(blob)
	case EncodingCompressed:
		return deserializeXOR(blob)
	default:
		return nil, fmt.Errorf("chunk: unknown encoding byte 0x%02x", blob[0])
	}
}
