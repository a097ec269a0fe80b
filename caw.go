package tcmu

import (
	"context"
	"time"

	"github.com/dispatchcore/tcmu/internal/bufpool"
	"github.com/dispatchcore/tcmu/internal/scsi"
)

// cawState threads the Compare-and-Write machine's intermediate state
// across its READ and WRITE stages (spec.md §3/§4.6). It lives only on the
// auxiliary read command's cmd.state field; origCmd never carries it.
type cawState struct {
	off     int64
	half    int
	origCmd *Command
}

// startCAW runs the COMPARE_AND_WRITE machine's READING stage (spec.md
// §4.6): split the incoming iovec in half, allocate an auxiliary read
// command over a fresh buffer sized to the first half, and dispatch a READ
// stub against it.
func (d *Device) startCAW(ctx context.Context, origCmd *Command) Status {
	d.tracker.Start()
	started := time.Now()

	total := scsi.IovecLength(origCmd.Iovec)
	half := total / 2

	readBuf := bufpool.Get(half)
	rc := NewCommand(origCmd.CDB, [][]byte{readBuf})
	rc.state = &cawState{
		off:     int64(scsi.LBA(origCmd.CDB)) * int64(d.params.LogicalBlockSize),
		half:    half,
		origCmd: origCmd,
	}

	stub := NewStub(OpRead, rc, d.execRead, func(cmd *Command, status Status) {
		d.cawReadComplete(ctx, cmd, status, started)
	})
	return d.Dispatch(ctx, stub)
}

// cawReadComplete is the READ stage's completion callback. On success it
// compares the readback against the first half of origCmd's iovec; a
// mismatch finalizes with MISCOMPARE sense carrying the offset, a match
// dispatches the WRITE stage. Per spec.md §9's flagged double-free/
// ordering bug, the state this stage needs (off, origCmd) is captured to
// locals before rc is discarded — the write stage never touches rc again.
func (d *Device) cawReadComplete(ctx context.Context, rc *Command, status Status, started time.Time) {
	st := rc.state.(*cawState)
	off, half, origCmd := st.off, st.half, st.origCmd

	if status != StatusGood {
		d.observer.ObserveCAW(uint64(time.Since(started)), false, false)
		d.finish(origCmd, status)
		return
	}

	expected := flattenHalf(origCmd.Iovec, half)
	mismatch := scsi.CompareIovec(rc.Iovec[0], expected, half)
	bufpool.Put(rc.Iovec[0])
	if mismatch >= 0 {
		info := uint32(mismatch)
		status := SetSense(origCmd, SenseMiscompare, ASCMiscompareDuringVerify, &info)
		d.observer.ObserveCAW(uint64(time.Since(started)), true, false)
		d.finish(origCmd, status)
		return
	}

	remainder := advanceIovec(origCmd.Iovec, half)
	stub := NewStub(OpWrite, origCmd, func(ctx context.Context, cmd *Command) Status {
		n, err := d.backend.WriteAt(ctx, cmd, remainder, off)
		return d.completeTransfer(cmd, n, half, err, OpWrite)
	}, func(cmd *Command, status Status) {
		d.observer.ObserveCAW(uint64(time.Since(started)), false, status == StatusGood)
		d.finish(cmd, status)
	})
	d.Dispatch(ctx, stub)
}

// flattenHalf copies the first n bytes of a scatter/gather list into a
// single contiguous buffer for comparison.
func flattenHalf(iov [][]byte, n int) []byte {
	out := make([]byte, 0, n)
	for _, v := range iov {
		if len(out) >= n {
			break
		}
		take := n - len(out)
		if take > len(v) {
			take = len(v)
		}
		out = append(out, v[:take]...)
	}
	return out
}

// advanceIovec returns the scatter/gather list with the first n bytes
// dropped, splitting an element if n falls inside it.
func advanceIovec(iov [][]byte, n int) [][]byte {
	var out [][]byte
	skipped := 0
	for _, v := range iov {
		if skipped+len(v) <= n {
			skipped += len(v)
			continue
		}
		if skipped < n {
			out = append(out, v[n-skipped:])
			skipped = n
		} else {
			out = append(out, v)
		}
	}
	return out
}
