// Package labelset canonicalizes metric and label strings into stable,
// refcounted handles and assembles them into sorted LabelSets.
package labelset

import (
	"sync"
)

const shardCount = 32

// Handle is a stable reference to an interned string. It remains valid
// until the refcount backing it drops to zero and Release is called.
type Handle uint64

type internerShard struct {
	mu      sync.Mutex
	byStr   map[string]Handle
	byID    map[Handle]string
	refs    map[Handle]int32
	nextSeq uint64
}

// Interner maps strings to stable handles with O(1) equality and bounded
// memory footprint via refcounting. It is shard-striped by hash so
// concurrent interning from many goroutines doesn't serialize on one lock.
type Interner struct {
	shards [shardCount]*internerShard
}

// NewInterner creates a ready-to-use Interner.
func NewInterner() *Interner {
	in := &Interner{}
	for i := range in.shards {
		in.shards[i] = &internerShard{
			byStr: make(map[string]Handle, 64),
			byID:  make(map[Handle]string, 64),
			refs:  make(map[Handle]int32, 64),
		}
	}
	return in
}

func (in *Interner) shardIndex(s string) uint32 {
	h := fnv1a(s)
	return h % shardCount
}

// Intern returns a stable handle for s, incrementing its refcount.
func (in *Interner) Intern(s string) Handle {
	idx := in.shardIndex(s)
	sh := in.shards[idx]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if h, ok := sh.byStr[s]; ok {
		sh.refs[h]++
		return h
	}

	sh.nextSeq++
	// encode the shard index in the low bits so Resolve/Release can find
	// the owning shard without a second lookup table.
	h := Handle(sh.nextSeq<<8 | uint64(idx))
	sh.byStr[s] = h
	sh.byID[h] = s
	sh.refs[h] = 1
	return h
}

// Resolve returns the string backing a handle. It panics if the handle is
// unknown to this interner, which indicates a programming error (a handle
// from a different interner, or one already fully released).
func (in *Interner) Resolve(h Handle) string {
	idx := uint32(h) % shardCount
	sh := in.shards[idx]

	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.byID[h]
	if !ok {
		panic("labelset: resolve of unknown or released handle")
	}
	return s
}

// Release decrements the refcount for h, freeing the backing string once
// it reaches zero.
func (in *Interner) Release(h Handle) {
	idx := uint32(h) % shardCount
	sh := in.shards[idx]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.refs[h]--
	if sh.refs[h] > 0 {
		return
	}

	s := sh.byID[h]
	delete(sh.byStr, s)
	delete(sh.byID, h)
	delete(sh.refs, h)
}

func fnv1a(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
