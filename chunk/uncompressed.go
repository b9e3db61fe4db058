package chunk

import (
	"encoding/binary"
	"math"
)

// uncompressedChunk stores two parallel arrays with O(log n) binary
// search on timestamps
type uncompressedChunk struct {
	maxSize  int
	rounding *Rounding
	ts       []int64
	vals     []float64
}

func newUncompressedChunk(maxSize int, rounding *Rounding) *uncompressedChunk {
	return &uncompressedChunk{maxSize: maxSize, rounding: rounding}
}

func (c *uncompressedChunk) Encoding() Encoding { return EncodingUncompressed }
func (c *uncompressedChunk) MaxSize() int       { return c.maxSize }
func (c *uncompressedChunk) Len() int           { return len(c.ts) }

func (c *uncompressedChunk) FirstTS() int64 {
	if len(c.ts) == 0 {
		return 0
	}
	return c.ts[0]
}

func (c *uncompressedChunk) LastTS() int64 {
	if len(c.ts) == 0 {
		return 0
	}
	return c.ts[len(c.ts)-1]
}

// Size estimates the serialized byte footprint: 16 bytes per sample plus
// a small header, matching the fixed-width packed-array layout.
func (c *uncompressedChunk) Size() int {
	return 16*len(c.ts) + 16
}

func (c *uncompressedChunk) Push(ts int64, v float64) PushResult {
	n := len(c.ts)
	if n > 0 && ts <= c.ts[n-1] {
		if ts == c.ts[n-1] {
			return Duplicate
		}
		return OutOfOrder
	}
	if c.Size() >= c.maxSize {
		return Full
	}
	c.append(ts, v)
	return Added
}

func (c *uncompressedChunk) append(ts int64, v float64) {
	c.ts = append(c.ts, ts)
	c.vals = append(c.vals, c.rounding.Apply(v))
}

func (c *uncompressedChunk) Upsert(ts int64, v float64, policy DuplicatePolicy) UpsertResult {
	n := len(c.ts)
	if n == 0 || ts > c.ts[n-1] {
		if c.Size() >= c.maxSize {
			return UpsertFull
		}
		c.append(ts, v)
		return UpsertAdded
	}

	idx := lowerBoundTS(c.ts, ts)
	if idx >= len(c.ts) || c.ts[idx] != ts {
		return UpsertIgnored
	}
	if policy == PolicyBlock {
		return UpsertBlocked
	}
	newVal, ok := Fold(policy, c.vals[idx], c.rounding.Apply(v))
	if !ok {
		return UpsertIgnored
	}
	c.vals[idx] = newVal
	return UpsertUpdated
}

func lowerBoundTS(ts []int64, target int64) int {
	lo, hi := 0, len(ts)
	for lo < hi {
		mid := (lo + hi) / 2
		if ts[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (c *uncompressedChunk) Range(from, to int64) Iterator {
	lo := lowerBoundTS(c.ts, from)
	hi := len(c.ts)
	if to < math.MaxInt64 {
		hi = lowerBoundTS(c.ts, to+1)
	}
	samples := make([]Sample, 0, hi-lo)
	for i := lo; i < hi; i++ {
		samples = append(samples, Sample{TS: c.ts[i], V: c.vals[i]})
	}
	return &sliceIterator{samples: samples, idx: -1}
}

func (c *uncompressedChunk) All() []Sample {
	out := make([]Sample, len(c.ts))
	for i := range c.ts {
		out[i] = Sample{TS: c.ts[i], V: c.vals[i]}
	}
	return out
}

func (c *uncompressedChunk) TrimBefore(cutoff int64) int {
	idx := lowerBoundTS(c.ts, cutoff)
	if idx == 0 {
		return 0
	}
	c.ts = append([]int64(nil), c.ts[idx:]...)
	c.vals = append([]float64(nil), c.vals[idx:]...)
	return idx
}

func (c *uncompressedChunk) Split() Chunk {
	return newUncompressedChunk(c.maxSize, c.rounding)
}

func (c *uncompressedChunk) Clone() Chunk {
	cp := &uncompressedChunk{maxSize: c.maxSize, rounding: c.rounding}
	cp.ts = append([]int64(nil), c.ts...)
	cp.vals = append([]float64(nil), c.vals...)
	return cp
}

// Serialize writes [encoding byte][count varint][(ts int64, v float64)...],
// the persisted per-chunk payload for the uncompressed encoding.
func (c *uncompressedChunk) Serialize() []byte {
	out := make([]byte, 1, 1+binary.MaxVarintLen64+16*len(c.ts))
	out[0] = byte(EncodingUncompressed)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(c.ts)))
	out = append(out, tmp[:n]...)
	for i := range c.ts {
		var buf [16]byte
		binary.BigEndian.PutUint64(buf[0:8], uint64(c.ts[i]))
		binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(c.vals[i]))
		out = append(out, buf[:]...)
	}
	return out
}

func deserializeUncompressed(blob []byte) (Chunk, error) {
	if len(blob) < 1 {
		return nil, errShortBlob
	}
	pos := 1
	count, n := binary.Uvarint(blob[pos:])
	if n <= 0 {
		return nil, errShortBlob
	}
	pos += n

	c := newUncompressedChunk(DefaultMaxSize, nil)
	c.ts = make([]int64, 0, count)
	c.vals = make([]float64, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos+16 > len(blob) {
			return nil, errShortBlob
		}
		ts := int64(binary.BigEndian.Uint64(blob[pos : pos+8]))
		v := math.Float64frombits(binary.BigEndian.Uint64(blob[pos+8 : pos+16]))
		c.ts = append(c.ts, ts)
		c.vals = append(c.vals, v)
		pos += 16
	}
	return c, nil
}
