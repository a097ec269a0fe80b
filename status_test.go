package tcmu

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestErrnoToStatusENOMEMMapsToTaskSetFull(t *testing.T) {
	cmd := NewCommand(nil, nil)
	status := ErrnoToStatus(cmd, unix.ENOMEM, OpWrite)
	require.Equal(t, StatusTaskSetFull, status)
}

// Scenario: transport/HA loss errnos escalate to NOT_READY/STATE TRANSITION
// rather than an ordinary medium-error sense (spec.md §7's transport/HA
// lost taxonomy entry).
func TestErrnoToStatusTransportLossMapsToNotReady(t *testing.T) {
	cmd := NewCommand(nil, nil)
	status := ErrnoToStatus(cmd, unix.ESHUTDOWN, OpRead)
	require.Equal(t, StatusCheckCondition, status)
	require.Equal(t, SenseNotReady, SenseKey(cmd.Sense[2]))
	require.Equal(t, ASCStateTransition, ASC(uint16(cmd.Sense[12])<<8|uint16(cmd.Sense[13])))

	cmd2 := NewCommand(nil, nil)
	status2 := ErrnoToStatus(cmd2, unix.ETIMEDOUT, OpWrite)
	require.Equal(t, StatusCheckCondition, status2)
	require.Equal(t, SenseNotReady, SenseKey(cmd2.Sense[2]))
}

func TestErrnoToStatusReadVsWriteASC(t *testing.T) {
	readCmd := NewCommand(nil, nil)
	ErrnoToStatus(readCmd, unix.EIO, OpRead)
	require.Equal(t, ASCReadError, ASC(uint16(readCmd.Sense[12])<<8|uint16(readCmd.Sense[13])))

	writeCmd := NewCommand(nil, nil)
	ErrnoToStatus(writeCmd, unix.EIO, OpWrite)
	require.Equal(t, ASCWriteError, ASC(uint16(writeCmd.Sense[12])<<8|uint16(writeCmd.Sense[13])))
}

func TestErrnoToStatusNilErrIsGood(t *testing.T) {
	cmd := NewCommand(nil, nil)
	require.Equal(t, StatusGood, ErrnoToStatus(cmd, nil, OpRead))
}

func TestClassifyTransportLoss(t *testing.T) {
	require.Equal(t, LossLock, ClassifyTransportLoss(unix.ETIMEDOUT))
	require.Equal(t, LossConn, ClassifyTransportLoss(unix.ESHUTDOWN))
	require.Equal(t, LossNone, ClassifyTransportLoss(unix.EIO))
	require.Equal(t, LossNone, ClassifyTransportLoss(nil))
}

func TestMapTransferResultErrTakesPriorityOverShortCount(t *testing.T) {
	cmd := NewCommand(nil, nil)
	status := MapTransferResult(cmd, 0, 512, unix.ENOMEM, OpWrite)
	require.Equal(t, StatusTaskSetFull, status)
}
