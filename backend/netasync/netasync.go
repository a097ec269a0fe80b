// Package netasync provides a Backend whose AIOSupported reports true: it
// demonstrates the dispatch engine's native-async arm (spec.md §4.3) with a
// genuine asynchronous completion signal rather than a goroutine that just
// pretends. The actual bytes move against an in-memory buffer; the
// completion notification is gated on a real gaio-driven round trip over a
// loopback TCP connection, so cmd.Complete runs on the watcher's own
// event-loop goroutine (or, if the watcher rejects a submission, on a
// goroutine of its own), never synchronously on the caller's stack.
package netasync

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/xtaci/gaio"

	"github.com/dispatchcore/tcmu"
)

// Backend is a RAM-backed Backend that completes every command
// asynchronously through a gaio.Watcher.
type Backend struct {
	mu   sync.RWMutex
	data []byte

	listener net.Listener
	client   net.Conn

	watcher *gaio.Watcher

	closeOnce sync.Once
	done      chan struct{}
}

// pendingOp threads one in-flight command's result through the watcher's
// write-then-read round trip: the marker byte is written to the loopback
// peer, echoed back, and only once the echo is observed does the command
// complete.
type pendingOp struct {
	cmd   *tcmu.Command
	op    tcmu.OpKind
	n     int
	want  int
	err   error
	stage int // 0 = awaiting write completion, 1 = awaiting echo
	buf   []byte
}

const (
	stageWrite = 0
	stageEcho  = 1
)

// New creates a Backend over size bytes of zeroed storage, with its own
// loopback TCP pair and gaio watcher driving completions.
func New(size int64) (*Backend, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("netasync: listen: %w", err)
	}

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("netasync: dial: %w", err)
	}

	server, err := ln.Accept()
	if err != nil {
		ln.Close()
		client.Close()
		return nil, fmt.Errorf("netasync: accept: %w", err)
	}

	w, err := gaio.NewWatcher()
	if err != nil {
		ln.Close()
		client.Close()
		server.Close()
		return nil, fmt.Errorf("netasync: new watcher: %w", err)
	}

	b := &Backend{
		data:     make([]byte, size),
		listener: ln,
		client:   client,
		watcher:  w,
		done:     make(chan struct{}),
	}

	go echoLoop(server)
	go b.completionLoop()

	return b, nil
}

// echoLoop is the remote side of the loopback pair: it reflects every byte
// it receives straight back, giving the watcher's round trip something real
// to wait on.
func echoLoop(conn net.Conn) {
	defer conn.Close()
	io.Copy(conn, conn)
}

// completionLoop is the backend's single consumer of watcher.WaitIO: it
// never touches a caller's dispatch goroutine, satisfying spec.md §8's "no
// completion under dispatch" invariant by construction.
func (b *Backend) completionLoop() {
	for {
		results, err := b.watcher.WaitIO()
		if err != nil {
			return
		}
		for _, res := range results {
			op, ok := res.Context.(*pendingOp)
			if !ok || op == nil {
				continue
			}
			b.handleResult(op, res)
		}
	}
}

func (b *Backend) handleResult(op *pendingOp, res gaio.OpResult) {
	if res.Error != nil {
		op.cmd.Complete(tcmu.ErrnoToStatus(op.cmd, res.Error, op.op))
		return
	}
	switch op.stage {
	case stageWrite:
		op.stage = stageEcho
		if err := b.watcher.Read(op, b.client, op.buf); err != nil {
			op.cmd.Complete(tcmu.ErrnoToStatus(op.cmd, err, op.op))
		}
	case stageEcho:
		op.cmd.Complete(tcmu.MapTransferResult(op.cmd, op.n, op.want, op.err, op.op))
	}
}

// submit performs the transfer against the in-memory buffer synchronously
// (fast, no real I/O latency to hide) and then kicks off the async
// round trip that actually delivers the completion. A rejected submission
// is completed on a separate goroutine, not on the caller's stack.
func (b *Backend) submit(cmd *tcmu.Command, op tcmu.OpKind, n, want int, err error) {
	pend := &pendingOp{cmd: cmd, op: op, n: n, want: want, err: err, buf: make([]byte, 1)}
	if werr := b.watcher.Write(pend, b.client, []byte{1}); werr != nil {
		go cmd.Complete(tcmu.ErrnoToStatus(cmd, werr, op))
	}
}

// Open is a no-op; all resources are acquired in New.
func (b *Backend) Open(ctx context.Context) error { return nil }

// Close tears down the watcher, the loopback connections, and the
// listener.
func (b *Backend) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.watcher.Close()
		b.client.Close()
		b.listener.Close()
	})
	return nil
}

// AIOSupported always reports true: Backend completes every command
// asynchronously, off the caller's goroutine.
func (b *Backend) AIOSupported() bool { return true }

// ReadAt reads into iov starting at off, then hands completion off to the
// watcher's round trip; its own return value is not this command's true
// outcome (spec.md §4.3) and callers must ignore it.
func (b *Backend) ReadAt(ctx context.Context, cmd *tcmu.Command, iov [][]byte, off int64) (int, error) {
	b.mu.RLock()
	total := 0
	for _, buf := range iov {
		if off >= int64(len(b.data)) {
			break
		}
		n := copy(buf, b.data[off:])
		off += int64(n)
		total += n
	}
	b.mu.RUnlock()

	want := 0
	for _, v := range iov {
		want += len(v)
	}
	b.submit(cmd, tcmu.OpRead, total, want, nil)
	return 0, nil
}

// WriteAt writes iov's bytes starting at off; see ReadAt for the
// synchronous-transfer/asynchronous-completion split.
func (b *Backend) WriteAt(ctx context.Context, cmd *tcmu.Command, iov [][]byte, off int64) (int, error) {
	b.mu.Lock()
	total := 0
	for _, buf := range iov {
		if off >= int64(len(b.data)) {
			break
		}
		n := copy(b.data[off:], buf)
		off += int64(n)
		total += n
	}
	b.mu.Unlock()

	want := 0
	for _, v := range iov {
		want += len(v)
	}
	b.submit(cmd, tcmu.OpWrite, total, want, nil)
	return 0, nil
}

// Flush completes asynchronously through the same round trip; the
// in-memory buffer has nothing to sync, so it always succeeds.
func (b *Backend) Flush(ctx context.Context, cmd *tcmu.Command) error {
	b.submit(cmd, tcmu.OpFlush, 0, 0, nil)
	return nil
}

var _ tcmu.Backend = (*Backend)(nil)
