package chunk

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// xorChunk implements the Gorilla-style encoding: the first sample is
// stored absolute; subsequent timestamps use a delta-of-delta prefix code,
// and subsequent values are XOR'd against the previous value with
// leading/trailing zero-run tracking. Grounded on the bit-writer contract
// exercised by Prometheus's tsdb/chunkenc bstream tests and the XOR chunk
// family in that package
// (xor18111.go, xorv2naive.go).
type xorChunk struct {
	buf      bstream
	maxSize  int
	rounding *Rounding

	num     int
	firstTS int64
	lastTS  int64

	lastDelta int64 // ts delta between the two most recent samples
	lastVal   uint64

	leading  uint8 // sentinel >64 means "no reusable window"
	trailing uint8
}

func newXORChunk(maxSize int, rounding *Rounding) *xorChunk {
	return &xorChunk{maxSize: maxSize, rounding: rounding, leading: 65}
}

func (c *xorChunk) Encoding() Encoding { return EncodingCompressed }
func (c *xorChunk) MaxSize() int       { return c.maxSize }
func (c *xorChunk) Len() int           { return c.num }
func (c *xorChunk) FirstTS() int64     { return c.firstTS }
func (c *xorChunk) LastTS() int64      { return c.lastTS }
func (c *xorChunk) Size() int          { return c.buf.len() }

func (c *xorChunk) Push(ts int64, v float64) PushResult {
	if c.num > 0 && ts <= c.lastTS {
		if ts == c.lastTS {
			return Duplicate
		}
		return OutOfOrder
	}
	if c.buf.len() >= c.maxSize {
		return Full
	}
	c.appendSample(ts, v)
	return Added
}

func (c *xorChunk) Upsert(ts int64, v float64, policy DuplicatePolicy) UpsertResult {
	v = c.rounding.Apply(v)

	if c.num == 0 || ts > c.lastTS {
		if c.buf.len() >= c.maxSize {
			return UpsertFull
		}
		c.appendSample(ts, v)
		return UpsertAdded
	}

	// ts <= lastTS: exact-match fold against an existing sample.
	samples := c.All()
	idx := -1
	for i, s := range samples {
		if s.TS == ts {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Not an exact duplicate and not appendable: unsupported
		// mid-stream reordering for the compressed codec.
		return UpsertIgnored
	}

	if policy == PolicyBlock {
		return UpsertBlocked
	}
	newVal, ok := Fold(policy, samples[idx].V, v)
	if !ok {
		return UpsertIgnored
	}
	samples[idx].V = newVal
	c.rebuildFrom(samples)
	return UpsertUpdated
}

func (c *xorChunk) appendSample(ts int64, v float64) {
	v = c.rounding.Apply(v)
	bitsV := math.Float64bits(v)

	if c.num == 0 {
		c.buf.writeBits(uint64(ts), 64)
		c.buf.writeBits(bitsV, 64)
		c.firstTS = ts
		c.lastTS = ts
		c.lastVal = bitsV
		c.lastDelta = 0
		c.num = 1
		return
	}

	if c.num == 1 {
		delta := ts - c.lastTS
		c.buf.writeBits(uint64(delta), 64)
		c.lastDelta = delta
	} else {
		delta := ts - c.lastTS
		dod := delta - c.lastDelta
		writeDeltaOfDelta(&c.buf, dod)
		c.lastDelta = delta
	}
	c.writeXORValue(bitsV)

	c.lastTS = ts
	c.lastVal = bitsV
	c.num++
}

func (c *xorChunk) writeXORValue(bitsV uint64) {
	xor := c.lastVal ^ bitsV
	if xor == 0 {
		c.buf.writeBit(false)
		return
	}

	leading := uint8(bits.LeadingZeros64(xor))
	trailing := uint8(bits.TrailingZeros64(xor))
	if leading >= 32 {
		leading = 31
	}

	if c.leading <= 64 && leading >= c.leading && trailing >= c.trailing {
		c.buf.writeBit(true)
		c.buf.writeBit(false)
		window := 64 - c.leading - c.trailing
		c.buf.writeBits(xor>>c.trailing, int(window))
		return
	}

	c.leading = leading
	c.trailing = trailing
	c.buf.writeBit(true)
	c.buf.writeBit(true)
	c.buf.writeBits(uint64(leading), 5)
	sigLen := 64 - leading - trailing
	// length field stores 0 to mean 64, matching a 6-bit field's range.
	lenField := sigLen
	if lenField == 64 {
		lenField = 0
	}
	c.buf.writeBits(uint64(lenField), 6)
	c.buf.writeBits(xor>>trailing, int(sigLen))
}

// writeDeltaOfDelta encodes dod using the prefix code from :
// {0 | 10±7b | 110±9b | 1110±12b | 1111±32b}.
func writeDeltaOfDelta(b *bstream, dod int64) {
	switch {
	case dod == 0:
		b.writeBit(false)
	case -63 <= dod && dod <= 64:
		b.writeBits(0b10, 2)
		b.writeBits(uint64(dod+63), 7)
	case -255 <= dod && dod <= 256:
		b.writeBits(0b110, 3)
		b.writeBits(uint64(dod+255), 9)
	case -2047 <= dod && dod <= 2048:
		b.writeBits(0b1110, 4)
		b.writeBits(uint64(dod+2047), 12)
	default:
		b.writeBits(0b1111, 4)
		b.writeBits(uint64(uint32(dod)), 32)
	}
}

func readDeltaOfDelta(r *bstreamReader) (int64, error) {
	var d uint8
	for i := 0; i < 4; i++ {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		if !bit {
			break
		}
		d++
	}
	switch d {
	case 0:
		return 0, nil
	case 1:
		v, err := r.readBits(7)
		if err != nil {
			return 0, err
		}
		return int64(v) - 63, nil
	case 2:
		v, err := r.readBits(9)
		if err != nil {
			return 0, err
		}
		return int64(v) - 255, nil
	case 3:
		v, err := r.readBits(12)
		if err != nil {
			return 0, err
		}
		return int64(v) - 2047, nil
	default:
		v, err := r.readBits(32)
		if err != nil {
			return 0, err
		}
		return int64(int32(uint32(v))), nil
	}
}

func (c *xorChunk) Range(from, to int64) Iterator {
	all := c.All()
	lo := lowerBound(all, from)
	hi := upperBoundInclusive(all, to)
	return &sliceIterator{samples: all[lo:hi], idx: -1}
}

// All decodes every sample, front to back.
func (c *xorChunk) All() []Sample {
	if c.num == 0 {
		return nil
	}
	out := make([]Sample, 0, c.num)
	r := newBReader(c.buf.bytes())

	tsBits, err := r.readBits(64)
	if err != nil {
		return out
	}
	ts := int64(tsBits)
	vBits, err := r.readBits(64)
	if err != nil {
		return out
	}
	v := math.Float64frombits(vBits)
	out = append(out, Sample{TS: ts, V: v})

	if c.num == 1 {
		return out
	}

	deltaBits, err := r.readBits(64)
	if err != nil {
		return out
	}
	delta := int64(deltaBits)
	ts += delta
	var leading, trailing uint8 = 65, 0
	vBits, leading, trailing, err = readXORValue(r, vBits, leading, trailing)
	if err != nil {
		return out
	}
	v = math.Float64frombits(vBits)
	out = append(out, Sample{TS: ts, V: v})

	for i := 2; i < c.num; i++ {
		dod, err := readDeltaOfDelta(r)
		if err != nil {
			break
		}
		delta += dod
		ts += delta
		vBits, leading, trailing, err = readXORValue(r, vBits, leading, trailing)
		if err != nil {
			break
		}
		v = math.Float64frombits(vBits)
		out = append(out, Sample{TS: ts, V: v})
	}
	return out
}

// readXORValue decodes one value given the previous value's bit pattern
// and the previous reusable leading/trailing zero-run window (65 as the
// leading sentinel means "no window established yet"), mirroring
// writeXORValue's state machine.
func readXORValue(r *bstreamReader, prevBits uint64, prevLeading, prevTrailing uint8) (uint64, uint8, uint8, error) {
	bit, err := r.readBit()
	if err != nil {
		return 0, prevLeading, prevTrailing, err
	}
	if !bit {
		return prevBits, prevLeading, prevTrailing, nil
	}
	bit2, err := r.readBit()
	if err != nil {
		return 0, prevLeading, prevTrailing, err
	}
	if !bit2 {
		// '10': reuse the previous window verbatim.
		window := 64 - int(prevLeading) - int(prevTrailing)
		mbits, err := r.readBits(window)
		if err != nil {
			return 0, prevLeading, prevTrailing, err
		}
		xor := mbits << uint(prevTrailing)
		return prevBits ^ xor, prevLeading, prevTrailing, nil
	}
	leadingU, err := r.readBits(5)
	if err != nil {
		return 0, prevLeading, prevTrailing, err
	}
	lenField, err := r.readBits(6)
	if err != nil {
		return 0, prevLeading, prevTrailing, err
	}
	sigLen := int(lenField)
	if sigLen == 0 {
		sigLen = 64
	}
	leading := uint8(leadingU)
	trailing := uint8(64 - int(leading) - sigLen)
	mbits, err := r.readBits(sigLen)
	if err != nil {
		return 0, leading, trailing, err
	}
	xor := mbits << uint(trailing)
	return prevBits ^ xor, leading, trailing, nil
}

func (c *xorChunk) TrimBefore(cutoff int64) int {
	all := c.All()
	i := 0
	for i < len(all) && all[i].TS < cutoff {
		i++
	}
	removed := i
	if removed == 0 {
		return 0
	}
	c.rebuildFrom(all[i:])
	return removed
}

func (c *xorChunk) Split() Chunk {
	return newXORChunk(c.maxSize, c.rounding)
}

func (c *xorChunk) rebuildFrom(samples []Sample) {
	*c = *newXORChunk(c.maxSize, c.rounding)
	for _, s := range samples {
		c.appendSample(s.TS, s.V)
	}
}

func (c *xorChunk) Clone() Chunk {
	cp := *c
	cp.buf.stream = append([]byte(nil), c.buf.stream...)
	return &cp
}

// Serialize writes [encoding byte][count varint][firstTS int64][lastTS
// int64][payload...], the shape named by persisted-state
// description.
func (c *xorChunk) Serialize() []byte {
	hdr := make([]byte, 1+binary.MaxVarintLen64+8+8)
	hdr[0] = byte(EncodingCompressed)
	n := 1
	n += binary.PutUvarint(hdr[n:], uint64(c.num))
	binary.BigEndian.PutUint64(hdr[n:], uint64(c.firstTS))
	n += 8
	binary.BigEndian.PutUint64(hdr[n:], uint64(c.lastTS))
	n += 8
	out := make([]byte, n, n+len(c.buf.bytes()))
	copy(out, hdr[:n])
	out = append(out, c.buf.bytes()...)
	return out
}

func deserializeXOR(blob []byte) (Chunk, error) {
	if len(blob) < 1 {
		return nil, errShortBlob
	}
	pos := 1
	count, n := binary.Uvarint(blob[pos:])
	if n <= 0 {
		return nil, errShortBlob
	}
	pos += n
	if pos+16 > len(blob) {
		return nil, errShortBlob
	}
	firstTS := int64(binary.BigEndian.Uint64(blob[pos:]))
	pos += 8
	lastTS := int64(binary.BigEndian.Uint64(blob[pos:]))
	pos += 8

	c := newXORChunk(DefaultMaxSize, nil)
	c.buf.stream = append([]byte(nil), blob[pos:]...)
	c.num = int(count)
	c.firstTS = firstTS
	c.lastTS = lastTS
	if c.num >= 2 {
		all := c.All()
		c.lastDelta = all[len(all)-1].TS - all[len(all)-2].TS
	}
	c.leading = 65 // force a fresh window on the next encoded value
	return c, nil
}

type blobErr struct{ msg string }

func (e blobErr) Error() string { return e.msg }

var errShortBlob = blobErr{"chunk: truncated serialized blob"}
