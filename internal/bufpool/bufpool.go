// Package bufpool provides pooled byte slices for the CAW and write-verify
// machines' per-pass readback buffers, avoiding a fresh allocation on
// every pass of a multi-stage command.
package bufpool

import "sync"

// Size buckets, power-of-2.
const (
	size4k   = 4 * 1024
	size16k  = 16 * 1024
	size64k  = 64 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
)

// pools is the shared set of size-bucketed pools. Pointer-to-slice is used
// throughout to avoid boxing a slice header into the sync.Pool interface.
var pools = struct {
	p4k, p16k, p64k, p256k, p1m sync.Pool
}{
	p4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	p16k:  sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	p64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	p256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	p1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// Get returns a zeroed buffer of exactly n bytes, backed by a pooled
// allocation of at least n bytes when n fits one of the buckets. Callers
// must call Put when done with the buffer.
func Get(n int) []byte {
	var p *sync.Pool
	switch {
	case n <= size4k:
		p = &pools.p4k
	case n <= size16k:
		p = &pools.p16k
	case n <= size64k:
		p = &pools.p64k
	case n <= size256k:
		p = &pools.p256k
	case n <= size1m:
		p = &pools.p1m
	default:
		return make([]byte, n)
	}
	buf := (*p.Get().(*[]byte))[:n]
	clear(buf)
	return buf
}

// Put returns buf to the pool it came from, selected by its capacity. A
// buffer whose capacity doesn't match a bucket (e.g. one from the
// default case in Get) is simply dropped.
func Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size4k:
		pools.p4k.Put(&buf)
	case size16k:
		pools.p16k.Put(&buf)
	case size64k:
		pools.p64k.Put(&buf)
	case size256k:
		pools.p256k.Put(&buf)
	case size1m:
		pools.p1m.Put(&buf)
	}
}
