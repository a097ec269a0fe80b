// Package mem provides a RAM-backed synchronous Backend, useful for tests
// and for demonstrating the worker-pool fallback path (it reports
// AIOSupported() == false, so every operation runs on a Device's internal
// worker pool).
package mem

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dispatchcore/tcmu"
)

// ShardSize is the size of each memory shard. Sharded locking lets
// concurrent worker-pool goroutines serve non-overlapping regions in
// parallel instead of serializing on a single mutex.
const ShardSize = 64 * 1024

// Memory is a RAM-based Backend.
type Memory struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// New creates a Memory backend of the given size in bytes.
func New(size int64) *Memory {
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards < 1 {
		numShards = 1
	}
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	if length <= 0 {
		length = 1
	}
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	if start < 0 {
		start = 0
	}
	return start, end
}

// Open is a no-op; Memory has no external resource to acquire.
func (m *Memory) Open(ctx context.Context) error { return nil }

// Close releases the backing buffer.
func (m *Memory) Close(ctx context.Context) error {
	m.data = nil
	return nil
}

// AIOSupported always reports false: Memory is deliberately synchronous,
// to exercise the worker-pool dispatch arm.
func (m *Memory) AIOSupported() bool { return false }

// ReadAt reads into iov starting at off, across shard locks.
func (m *Memory) ReadAt(ctx context.Context, cmd *tcmu.Command, iov [][]byte, off int64) (int, error) {
	total := 0
	for _, buf := range iov {
		if off >= m.size {
			break
		}
		available := m.size - off
		want := int64(len(buf))
		if want > available {
			want = available
			buf = buf[:want]
		}

		start, end := m.shardRange(off, want)
		for i := start; i <= end; i++ {
			m.shards[i].RLock()
		}
		n := copy(buf, m.data[off:off+want])
		for i := start; i <= end; i++ {
			m.shards[i].RUnlock()
		}

		total += n
		off += int64(n)
	}
	return total, nil
}

// WriteAt writes iov's bytes starting at off, across shard locks. A write
// that starts at or past the end of the device returns unix.ENOSPC; one
// that starts inside the device and runs past its end is truncated at the
// end and returns the short byte count, with no error.
func (m *Memory) WriteAt(ctx context.Context, cmd *tcmu.Command, iov [][]byte, off int64) (int, error) {
	if off >= m.size {
		return 0, unix.ENOSPC
	}
	total := 0
	for _, buf := range iov {
		if off >= m.size {
			break
		}
		available := m.size - off
		want := int64(len(buf))
		if want > available {
			want = available
			buf = buf[:want]
		}

		start, end := m.shardRange(off, want)
		for i := start; i <= end; i++ {
			m.shards[i].Lock()
		}
		n := copy(m.data[off:off+want], buf)
		for i := start; i <= end; i++ {
			m.shards[i].Unlock()
		}

		total += n
		off += int64(n)
	}
	return total, nil
}

// Flush is a no-op: writes to the in-memory buffer are already durable for
// the lifetime of the process.
func (m *Memory) Flush(ctx context.Context, cmd *tcmu.Command) error {
	return nil
}

// Size returns the device's total addressable byte size.
func (m *Memory) Size() int64 { return m.size }

var _ tcmu.Backend = (*Memory)(nil)
