package tcmu

import (
	"context"
	"time"

	"github.com/dispatchcore/tcmu/internal/scsi"
)

// startSingleShot runs the READ/WRITE/FLUSH machine (spec.md §4.5): start
// the tracker, build the appropriate stub, dispatch it. The stub function
// performs the status mapping; the completion callback reports to the
// observer and performs the unified finish.
func (d *Device) startSingleShot(ctx context.Context, cmd *Command, op OpKind) Status {
	d.tracker.Start()
	started := time.Now()

	var fn StubFunc
	switch op {
	case OpRead:
		fn = d.execRead
	case OpWrite:
		fn = d.execWrite
	case OpFlush:
		fn = d.execFlush
	}

	stub := NewStub(op, cmd, fn, func(cmd *Command, status Status) {
		d.observeSingleShot(op, cmd, status, time.Since(started))
		d.finish(cmd, status)
	})
	return d.Dispatch(ctx, stub)
}

// observeSingleShot reports a completed single-shot operation to the
// device's Observer.
func (d *Device) observeSingleShot(op OpKind, cmd *Command, status Status, latency time.Duration) {
	success := status == StatusGood
	bytes := uint64(scsi.IovecLength(cmd.Iovec))
	switch op {
	case OpRead:
		d.observer.ObserveRead(bytes, uint64(latency), success)
	case OpWrite:
		d.observer.ObserveWrite(bytes, uint64(latency), success)
	case OpFlush:
		d.observer.ObserveFlush(uint64(latency), success)
	}
}

// execRead performs a READ's backend call. A native-async backend kicks off
// the read and returns immediately — this function returns StatusAsyncHandled
// without waiting, trusting the backend to call cmd.Complete itself once
// the data has actually landed. A synchronous backend's return value is
// mapped to a terminal Status right here.
func (d *Device) execRead(ctx context.Context, cmd *Command) Status {
	off := d.offsetOf(cmd)
	want := d.transferBytesOf(cmd)
	n, err := d.backend.ReadAt(ctx, cmd, cmd.Iovec, off)
	return d.completeTransfer(cmd, n, want, err, OpRead)
}

// execWrite performs a WRITE's backend call; see execRead for the
// sync/async split.
func (d *Device) execWrite(ctx context.Context, cmd *Command) Status {
	off := d.offsetOf(cmd)
	want := d.transferBytesOf(cmd)
	n, err := d.backend.WriteAt(ctx, cmd, cmd.Iovec, off)
	return d.completeTransfer(cmd, n, want, err, OpWrite)
}

// execFlush performs a FLUSH's backend call; see execRead for the
// sync/async split.
func (d *Device) execFlush(ctx context.Context, cmd *Command) Status {
	err := d.backend.Flush(ctx, cmd)
	if d.backend.AIOSupported() {
		return StatusAsyncHandled
	}
	if err != nil {
		return ErrnoToStatus(cmd, err, OpFlush)
	}
	return StatusGood
}

// completeTransfer is execRead/execWrite's shared sync/async split: an
// AIOSupported backend has already been handed the call and is expected to
// invoke cmd.Complete itself later, so the n/err this call returned are not
// this command's true outcome and must not be mapped here.
func (d *Device) completeTransfer(cmd *Command, n, want int, err error, op OpKind) Status {
	if d.backend.AIOSupported() {
		return StatusAsyncHandled
	}
	d.escalateTransportLoss(err)
	return MapTransferResult(cmd, n, want, err, op)
}

// escalateTransportLoss notifies the transport of a lost HA lock or a lost
// backing-store connection, per spec.md §7's transport/HA-lost taxonomy
// entry (rbd.c's tcmu_rbd_handle_timedout_cmd/blacklisted_cmd pattern: the
// command itself still completes with a NOT_READY/STATE_TRANSITION status
// via ErrnoToStatus, but the adapter also gets a side-channel nudge to act
// on, e.g. to fence or fail over).
func (d *Device) escalateTransportLoss(err error) {
	switch ClassifyTransportLoss(err) {
	case LossLock:
		d.log.Warn("transport lock lost", "err", err)
		d.transport.NotifyLockLost(d)
	case LossConn:
		d.log.Warn("transport connection lost", "err", err)
		d.transport.NotifyConnLost(d)
	}
}

// offsetOf resolves a command's byte offset from its CDB's LBA.
func (d *Device) offsetOf(cmd *Command) int64 {
	return int64(scsi.LBA(cmd.CDB)) * int64(d.params.LogicalBlockSize)
}

// transferBytesOf resolves a command's requested transfer length, in
// bytes, from its CDB.
func (d *Device) transferBytesOf(cmd *Command) int {
	return int(scsi.TransferLength(cmd.CDB)) * int(d.params.LogicalBlockSize)
}
