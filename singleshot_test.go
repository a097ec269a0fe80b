package tcmu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestDevice(t *testing.T, backend Backend) (*Device, *FakeTransport) {
	t.Helper()
	transport := NewFakeTransport()
	dev, err := NewDevice(DeviceParams{ID: "test0", LogicalBlockSize: 512}, backend, transport)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close(context.Background()) })
	return dev, transport
}

func write10(lba uint32, numBlocks uint16) []byte {
	cdb := make([]byte, 10)
	cdb[0] = 0x2A
	cdb[2] = byte(lba >> 24)
	cdb[3] = byte(lba >> 16)
	cdb[4] = byte(lba >> 8)
	cdb[5] = byte(lba)
	cdb[7] = byte(numBlocks >> 8)
	cdb[8] = byte(numBlocks)
	return cdb
}

func read10(lba uint32, numBlocks uint16) []byte {
	cdb := write10(lba, numBlocks)
	cdb[0] = 0x28
	return cdb
}

func flush10() []byte {
	return []byte{0x35, 0, 0, 0, 0, 0, 0, 0, 0, 0}
}

// Scenario: single synchronous write dispatched through the worker pool
// completes GOOD and the tracker returns to idle (spec.md §8).
func TestSingleShotWriteSync(t *testing.T) {
	backend := NewMockBackend(4096)
	dev, transport := newTestDevice(t, backend)

	data := make([]byte, 512)
	copy(data, "hello-world-0123")
	cmd := NewCommand(write10(0, 1), [][]byte{data})
	status := dev.Route(context.Background(), cmd)
	require.Equal(t, StatusAsyncHandled, status)

	transport.Wait(1)
	completions := transport.Completions()
	require.Len(t, completions, 1)
	require.Equal(t, StatusGood, completions[0].Status)
	require.Equal(t, 1, backend.WriteCalls())
	require.Equal(t, 1, transport.IdleNudges())
}

// Scenario: single asynchronous read dispatched against a native-async
// backend returns ASYNC_HANDLED immediately and completes out-of-band,
// after a prior asynchronous write has landed the bytes it reads back.
func TestSingleShotReadAsync(t *testing.T) {
	backend := NewMockAsyncBackend(4096)
	dev, transport := newTestDevice(t, backend)

	writeData := make([]byte, 512)
	copy(writeData, "async-payload-0")
	writeCmd := NewCommand(write10(0, 1), [][]byte{append([]byte(nil), writeData...)})
	status := dev.Route(context.Background(), writeCmd)
	require.Equal(t, StatusAsyncHandled, status)
	transport.Wait(1)
	require.Equal(t, StatusGood, transport.Completions()[0].Status)

	buf := make([]byte, 512)
	readCmd := NewCommand(read10(0, 1), [][]byte{buf})
	status = dev.Route(context.Background(), readCmd)
	require.Equal(t, StatusAsyncHandled, status)

	transport.Wait(2)
	completions := transport.Completions()
	require.Len(t, completions, 2)
	require.Equal(t, StatusGood, completions[1].Status)
	require.Equal(t, writeData, buf)
}

// Scenario: a short write (backend returns fewer bytes than requested,
// no explicit error) maps to a CHECK_CONDITION with a WRITE ERROR sense
// (spec.md §7/§8's short-transfer rule).
func TestSingleShotShortWriteMapsToCheckCondition(t *testing.T) {
	backend := NewMockBackend(4096)
	backend.SetShortBy(4)
	dev, transport := newTestDevice(t, backend)

	cmd := NewCommand(write10(0, 1), [][]byte{make([]byte, 512)})
	dev.Route(context.Background(), cmd)

	transport.Wait(1)
	completions := transport.Completions()
	require.Len(t, completions, 1)
	require.Equal(t, StatusCheckCondition, completions[0].Status)
	require.Equal(t, SenseKey(completions[0].Cmd.Sense[2]), SenseMediumError)
}

// Scenario: FLUSH on a synchronous backend completes GOOD with no data
// transfer involved.
func TestSingleShotFlush(t *testing.T) {
	backend := NewMockBackend(4096)
	dev, transport := newTestDevice(t, backend)

	cmd := NewCommand(flush10(), nil)
	dev.Route(context.Background(), cmd)

	transport.Wait(1)
	require.Equal(t, StatusGood, transport.Completions()[0].Status)
	require.Equal(t, 1, backend.FlushCalls())
}

// Scenario: a write that fails with -ESHUTDOWN both completes with
// NOT_READY/STATE_TRANSITION sense and escalates to the transport's
// NotifyConnLost, so an adapter watching for HA loss has something to act
// on beyond the per-command status (spec.md §7's transport/HA-lost entry).
func TestSingleShotConnLostEscalates(t *testing.T) {
	backend := NewMockBackend(4096)
	backend.SetWriteErr(unix.ESHUTDOWN)
	dev, transport := newTestDevice(t, backend)

	cmd := NewCommand(write10(0, 1), [][]byte{make([]byte, 512)})
	dev.Route(context.Background(), cmd)

	transport.Wait(1)
	completions := transport.Completions()
	require.Equal(t, StatusCheckCondition, completions[0].Status)
	require.Equal(t, SenseNotReady, SenseKey(completions[0].Cmd.Sense[2]))
	require.Equal(t, 1, transport.ConnLostCalls())
	require.Equal(t, 0, transport.LockLostCalls())
}

// Scenario: a read that fails with -ETIMEDOUT escalates to NotifyLockLost
// instead, matching rbd.c's timed-out-command HA lock loss path.
func TestSingleShotLockLostEscalates(t *testing.T) {
	backend := NewMockBackend(4096)
	backend.SetReadErr(unix.ETIMEDOUT)
	dev, transport := newTestDevice(t, backend)

	cmd := NewCommand(read10(0, 1), [][]byte{make([]byte, 512)})
	dev.Route(context.Background(), cmd)

	transport.Wait(1)
	require.Equal(t, 1, transport.LockLostCalls())
	require.Equal(t, 0, transport.ConnLostCalls())
}

// Invariant: after every completion the tracker is back at zero in-flight
// (spec.md §8's tracker-conservation property), across many overlapping
// commands.
func TestTrackerReturnsToIdleAcrossManyCommands(t *testing.T) {
	backend := NewMockBackend(1 << 20)
	dev, transport := newTestDevice(t, backend)

	const n = 64
	for i := 0; i < n; i++ {
		cmd := NewCommand(write10(uint32(i), 1), [][]byte{make([]byte, 512)})
		dev.Route(context.Background(), cmd)
	}
	transport.Wait(n)
	require.Len(t, transport.Completions(), n)
	require.True(t, dev.tracker.Idle())
}
