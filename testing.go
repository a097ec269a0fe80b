package tcmu

import (
	"context"
	"sync"

	"github.com/dispatchcore/tcmu/internal/scsi"
	"golang.org/x/sys/unix"
)

// MockBackend is a RAM-backed Backend for unit tests, with call-count
// tracking and injectable per-call errors so machine tests can exercise
// failure paths without a real storage device.
type MockBackend struct {
	mu   sync.Mutex
	data []byte

	aio bool

	readCalls  int
	writeCalls int
	flushCalls int

	readErr  error
	writeErr error
	flushErr error

	// shortBy truncates the next ReadAt/WriteAt result by this many bytes,
	// to exercise the short-transfer path without an explicit error.
	shortBy int

	// corruptNextRead flips the first byte of the next ReadAt's result,
	// to exercise a miscompare without faking a backend error.
	corruptNextRead bool
}

// NewMockBackend returns a synchronous MockBackend over size bytes of
// zeroed storage.
func NewMockBackend(size int64) *MockBackend {
	return &MockBackend{data: make([]byte, size)}
}

// NewMockAsyncBackend returns a MockBackend whose AIOSupported reports
// true; ReadAt/WriteAt/Flush hand the transfer off to a goroutine and
// return immediately, completing cmd themselves once it finishes — the
// Device's native-async arm, exercising that code path.
func NewMockAsyncBackend(size int64) *MockBackend {
	m := NewMockBackend(size)
	m.aio = true
	return m
}

func (m *MockBackend) Open(ctx context.Context) error  { return nil }
func (m *MockBackend) Close(ctx context.Context) error { return nil }

// AIOSupported reports whether this mock behaves as a native-async backend.
func (m *MockBackend) AIOSupported() bool { return m.aio }

// SetReadErr makes the next ReadAt call return err.
func (m *MockBackend) SetReadErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetWriteErr makes the next WriteAt call return err.
func (m *MockBackend) SetWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetFlushErr makes the next Flush call return err.
func (m *MockBackend) SetFlushErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushErr = err
}

// SetShortBy makes the next ReadAt/WriteAt transfer n bytes fewer than
// requested, without returning an error.
func (m *MockBackend) SetShortBy(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortBy = n
}

// CorruptNextRead flips the first byte of the next ReadAt's result, so a
// caller can exercise a miscompare path without faking a backend error.
func (m *MockBackend) CorruptNextRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corruptNextRead = true
}

// ReadCalls returns the number of ReadAt calls observed so far.
func (m *MockBackend) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// WriteCalls returns the number of WriteAt calls observed so far.
func (m *MockBackend) WriteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCalls
}

// FlushCalls returns the number of Flush calls observed so far.
func (m *MockBackend) FlushCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushCalls
}

// Contents returns a copy of the backing storage, for assertions.
func (m *MockBackend) Contents() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

func (m *MockBackend) ReadAt(ctx context.Context, cmd *Command, iov [][]byte, off int64) (int, error) {
	m.mu.Lock()
	if m.aio {
		go m.asyncRead(cmd, iov, off)
		m.mu.Unlock()
		return 0, nil
	}
	n, err := m.doRead(iov, off)
	m.mu.Unlock()
	return n, err
}

// doRead performs the actual copy; callers must hold m.mu.
func (m *MockBackend) doRead(iov [][]byte, off int64) (int, error) {
	m.readCalls++
	if m.readErr != nil {
		err := m.readErr
		m.readErr = nil
		return 0, err
	}
	total := 0
	for _, v := range iov {
		if off >= int64(len(m.data)) {
			break
		}
		n := copy(v, m.data[off:])
		off += int64(n)
		total += n
	}
	if m.shortBy > 0 && total >= m.shortBy {
		total -= m.shortBy
		m.shortBy = 0
	}
	if m.corruptNextRead && total > 0 {
		iov[0][0] ^= 0xFF
		m.corruptNextRead = false
	}
	return total, nil
}

// asyncRead simulates a native-async backend: the actual transfer happens
// on its own goroutine, off the caller's stack, and the command is only
// completed once that finishes — never synchronously within ReadAt itself.
func (m *MockBackend) asyncRead(cmd *Command, iov [][]byte, off int64) {
	m.mu.Lock()
	n, err := m.doRead(iov, off)
	m.mu.Unlock()
	want := scsi.IovecLength(iov)
	cmd.Complete(MapTransferResult(cmd, n, want, err, OpRead))
}

func (m *MockBackend) WriteAt(ctx context.Context, cmd *Command, iov [][]byte, off int64) (int, error) {
	m.mu.Lock()
	if m.aio {
		go m.asyncWrite(cmd, iov, off)
		m.mu.Unlock()
		return 0, nil
	}
	n, err := m.doWrite(iov, off)
	m.mu.Unlock()
	return n, err
}

// doWrite performs the actual copy; callers must hold m.mu.
func (m *MockBackend) doWrite(iov [][]byte, off int64) (int, error) {
	m.writeCalls++
	if m.writeErr != nil {
		err := m.writeErr
		m.writeErr = nil
		return 0, err
	}
	total := 0
	for _, v := range iov {
		if off >= int64(len(m.data)) {
			break
		}
		n := copy(m.data[off:], v)
		off += int64(n)
		total += n
	}
	if m.shortBy > 0 && total >= m.shortBy {
		total -= m.shortBy
		m.shortBy = 0
	}
	return total, nil
}

func (m *MockBackend) asyncWrite(cmd *Command, iov [][]byte, off int64) {
	m.mu.Lock()
	n, err := m.doWrite(iov, off)
	m.mu.Unlock()
	want := scsi.IovecLength(iov)
	cmd.Complete(MapTransferResult(cmd, n, want, err, OpWrite))
}

func (m *MockBackend) Flush(ctx context.Context, cmd *Command) error {
	m.mu.Lock()
	if m.aio {
		m.mu.Unlock()
		go func() {
			m.mu.Lock()
			m.flushCalls++
			err := m.flushErr
			m.flushErr = nil
			m.mu.Unlock()
			status := StatusGood
			if err != nil {
				status = ErrnoToStatus(cmd, err, OpFlush)
			}
			cmd.Complete(status)
		}()
		return nil
	}
	defer m.mu.Unlock()
	m.flushCalls++
	if m.flushErr != nil {
		err := m.flushErr
		m.flushErr = nil
		return err
	}
	return nil
}

var _ Backend = (*MockBackend)(nil)

// FakeTransport is an in-memory Transport for tests: it records every
// completion and idle nudge it receives instead of acting on them.
type FakeTransport struct {
	mu sync.Mutex

	completions []FakeCompletion
	idleNudges  int
	lockLost    int
	connLost    int

	notify chan struct{}
}

// FakeCompletion is one recorded CommandComplete call.
type FakeCompletion struct {
	Cmd    *Command
	Status Status
}

// NewFakeTransport returns a FakeTransport with a buffered notification
// channel tests can select on to wait for the Nth completion.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{notify: make(chan struct{}, 1024)}
}

func (t *FakeTransport) CommandComplete(dev *Device, cmd *Command, status Status) {
	t.mu.Lock()
	t.completions = append(t.completions, FakeCompletion{Cmd: cmd, Status: status})
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *FakeTransport) ProcessingComplete(dev *Device) {
	t.mu.Lock()
	t.idleNudges++
	t.mu.Unlock()
}

func (t *FakeTransport) NotifyLockLost(dev *Device) {
	t.mu.Lock()
	t.lockLost++
	t.mu.Unlock()
}

func (t *FakeTransport) NotifyConnLost(dev *Device) {
	t.mu.Lock()
	t.connLost++
	t.mu.Unlock()
}

// Completions returns a snapshot of every CommandComplete call recorded so far.
func (t *FakeTransport) Completions() []FakeCompletion {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FakeCompletion, len(t.completions))
	copy(out, t.completions)
	return out
}

// IdleNudges returns how many times ProcessingComplete fired.
func (t *FakeTransport) IdleNudges() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idleNudges
}

// LockLostCalls returns how many times NotifyLockLost fired.
func (t *FakeTransport) LockLostCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockLost
}

// ConnLostCalls returns how many times NotifyConnLost fired.
func (t *FakeTransport) ConnLostCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connLost
}

// Wait blocks until n completions have been recorded.
func (t *FakeTransport) Wait(n int) {
	for {
		t.mu.Lock()
		have := len(t.completions)
		t.mu.Unlock()
		if have >= n {
			return
		}
		<-t.notify
	}
}

var _ Transport = (*FakeTransport)(nil)

// errnoErr returns a unix.Errno as a plain error value.
func errnoErr(e unix.Errno) error { return e }
