package tcmu

import (
	"context"
	"time"

	"github.com/dispatchcore/tcmu/internal/bufpool"
	"github.com/dispatchcore/tcmu/internal/scsi"
)

// writeVerifyState threads the Write-Verify machine's intermediate state
// (spec.md §3/§4.7) across its WRITING/READING/COMPARING loop. It lives on
// the original write command; the sidecar read command only ever holds a
// freshly allocated compare buffer, reallocated each pass.
type writeVerifyState struct {
	off       int64
	remaining int
	requested int
	started   time.Time
}

// startWriteVerify runs the WRITE_VERIFY machine's first WRITING stage
// (spec.md §4.7): attach loop state to origCmd and dispatch a WRITE stub
// over its full iovec.
func (d *Device) startWriteVerify(ctx context.Context, origCmd *Command) Status {
	d.tracker.Start()

	length := scsi.IovecLength(origCmd.Iovec)
	origCmd.state = &writeVerifyState{
		off:       int64(scsi.LBA(origCmd.CDB)) * int64(d.params.LogicalBlockSize),
		remaining: length,
		requested: length,
		started:   time.Now(),
	}

	stub := NewStub(OpWrite, origCmd, d.execWrite, func(cmd *Command, status Status) {
		d.wvWriteComplete(ctx, cmd, status)
	})
	return d.Dispatch(ctx, stub)
}

// wvWriteComplete is the WRITING stage's completion callback: on failure,
// finalize; on success, dispatch a READ against a freshly allocated
// compare buffer sized to this pass's write length.
func (d *Device) wvWriteComplete(ctx context.Context, origCmd *Command, status Status) {
	if status != StatusGood {
		d.wvFinish(origCmd, status, false)
		return
	}

	st := origCmd.state.(*writeVerifyState)
	readBuf := bufpool.Get(st.requested)
	rc := NewCommand(origCmd.CDB, [][]byte{readBuf})

	stub := NewStub(OpRead, rc, func(ctx context.Context, cmd *Command) Status {
		n, err := d.backend.ReadAt(ctx, cmd, cmd.Iovec, st.off)
		return d.completeTransfer(cmd, n, st.requested, err, OpRead)
	}, func(cmd *Command, status Status) {
		d.wvReadComplete(ctx, origCmd, cmd, status)
	})
	d.Dispatch(ctx, stub)
}

// wvReadComplete is the READING stage's completion callback: on failure,
// finalize. Otherwise compare the readback against origCmd's expected
// bytes for this pass; a mismatch finalizes with MISCOMPARE, a match
// advances the loop (finalize GOOD if exhausted, otherwise reissue WRITE
// on the residual).
func (d *Device) wvReadComplete(ctx context.Context, origCmd, rc *Command, status Status) {
	if status != StatusGood {
		d.wvFinish(origCmd, status, false)
		return
	}

	st := origCmd.state.(*writeVerifyState)
	expected := flattenHalf(origCmd.Iovec, st.requested)
	mismatch := scsi.CompareIovec(rc.Iovec[0], expected, st.requested)
	bufpool.Put(rc.Iovec[0])
	if mismatch >= 0 {
		info := uint32(mismatch)
		status := SetSense(origCmd, SenseMiscompare, ASCMiscompareDuringVerify, &info)
		d.wvFinish(origCmd, status, true)
		return
	}

	st.remaining -= st.requested
	if st.remaining == 0 {
		d.wvFinish(origCmd, StatusGood, false)
		return
	}

	origCmd.Iovec = advanceIovec(origCmd.Iovec, st.requested)
	st.off += int64(st.requested)
	st.requested = scsi.IovecLength(origCmd.Iovec)

	stub := NewStub(OpWrite, origCmd, func(ctx context.Context, cmd *Command) Status {
		n, err := d.backend.WriteAt(ctx, cmd, cmd.Iovec, st.off)
		return d.completeTransfer(cmd, n, st.requested, err, OpWrite)
	}, func(cmd *Command, status Status) {
		d.wvWriteComplete(ctx, cmd, status)
	})
	d.Dispatch(ctx, stub)
}

// wvFinish clears origCmd's loop state before delivering the terminal
// status, so no per-command state remains attributable to the command once
// it completes (spec.md §8's state-cleanup invariant).
func (d *Device) wvFinish(origCmd *Command, status Status, miscompare bool) {
	st, _ := origCmd.state.(*writeVerifyState)
	origCmd.state = nil
	if st != nil {
		d.observer.ObserveWriteVerify(uint64(time.Since(st.started)), miscompare, status == StatusGood)
	}
	d.finish(origCmd, status)
}
