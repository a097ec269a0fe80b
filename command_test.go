package tcmu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Invariant: a command completes exactly once; a second Complete call is a
// programming error and panics rather than silently double-delivering
// (spec.md §8's exactly-once property).
func TestCommandCompleteExactlyOnce(t *testing.T) {
	var got Status
	calls := 0
	cmd := NewCommand([]byte{0x28}, nil)
	cmd.done = func(cmd *Command, status Status) {
		calls++
		got = status
	}

	cmd.Complete(StatusGood)
	require.Equal(t, 1, calls)
	require.Equal(t, StatusGood, got)

	require.Panics(t, func() { cmd.Complete(StatusBusy) })
}

func TestMapTransferResultShortTransferMapsToIOError(t *testing.T) {
	cmd := NewCommand([]byte{0x28}, nil)
	status := MapTransferResult(cmd, 100, 512, nil, OpRead)
	require.Equal(t, StatusCheckCondition, status)
	require.Equal(t, SenseMediumError, SenseKey(cmd.Sense[2]))
	require.Equal(t, ASCReadError, ASC(uint16(cmd.Sense[12])<<8|uint16(cmd.Sense[13])))
}

func TestMapTransferResultExactTransferIsGood(t *testing.T) {
	cmd := NewCommand([]byte{0x2A}, nil)
	status := MapTransferResult(cmd, 512, 512, nil, OpWrite)
	require.Equal(t, StatusGood, status)
}
