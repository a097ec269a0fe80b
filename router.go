package tcmu

import (
	"context"

	"github.com/dispatchcore/tcmu/internal/scsi"
)

// Route is the command router (spec.md §4.4/C5): it maps cmd's CDB opcode
// to one of the operation machines and runs it. If the backend implements
// HandleCmdBackend, Route first offers cmd to it as a passthrough; a
// StatusNotHandled result — whether the backend declines synchronously on
// the calling goroutine or asynchronously out-of-band — always runs
// through cmd's completion callback exactly once and falls through to the
// per-opcode machine from there.
//
// Route returns StatusNotHandled itself when no machine recognizes the
// opcode; the transport is expected to apply its own default reply.
func (d *Device) Route(ctx context.Context, cmd *Command) Status {
	if hb, ok := d.backend.(HandleCmdBackend); ok {
		return d.dispatchHandleCmd(ctx, cmd, hb)
	}
	return d.routeOpcode(ctx, cmd)
}

// dispatchHandleCmd issues the optional passthrough stub. HANDLE_CMD may
// decline either synchronously — on an AIOSupported backend, before
// Dispatch returns — or asynchronously, via the backend's own out-of-band
// callback; Dispatch treats StatusNotHandled as terminal-for-completion-
// purposes in both of its arms, so handleCmdCompletion always runs exactly
// once regardless of which arm declined, and performs the NOT_HANDLED
// fallback uniformly from there (spec.md §4.4). When the decline happened
// inline, the opcode router's own status is what this returns.
func (d *Device) dispatchHandleCmd(ctx context.Context, cmd *Command, hb HandleCmdBackend) Status {
	d.tracker.Start()
	fallback := StatusNotHandled
	stub := NewStub(OpHandleCmd, cmd, func(ctx context.Context, cmd *Command) Status {
		return hb.HandleCmd(ctx, cmd)
	}, func(cmd *Command, status Status) {
		fallback = d.handleCmdCompletion(ctx, cmd, status)
	})
	status := d.Dispatch(ctx, stub)
	if status == StatusNotHandled {
		return fallback
	}
	return status
}

// handleCmdCompletion is cmd's completion callback for the HANDLE_CMD
// stub. A decline (StatusNotHandled) never reaches the transport: this
// passthrough attempt's tracker increment is released here, and the
// opcode machine below starts its own Start/finish pair and completes cmd
// itself; the opcode router's status is returned. Any other status is
// delivered through the unified finisher and returned unchanged.
func (d *Device) handleCmdCompletion(ctx context.Context, cmd *Command, status Status) Status {
	if status == StatusNotHandled {
		d.tracker.Finish()
		return d.routeOpcode(ctx, cmd)
	}
	d.finish(cmd, status)
	return status
}

// routeOpcode maps cmd's CDB opcode to a machine and runs it.
func (d *Device) routeOpcode(ctx context.Context, cmd *Command) Status {
	if len(cmd.CDB) == 0 {
		return StatusNotHandled
	}
	op := scsi.Opcode(cmd.CDB[0])
	switch scsi.ClassifyOpcode(op) {
	case scsi.FamilyRead:
		return d.startSingleShot(ctx, cmd, OpRead)
	case scsi.FamilyWrite:
		return d.startSingleShot(ctx, cmd, OpWrite)
	case scsi.FamilyFlush:
		return d.startSingleShot(ctx, cmd, OpFlush)
	case scsi.FamilyCompareAndWrite:
		return d.startCAW(ctx, cmd)
	case scsi.FamilyWriteVerify:
		return d.startWriteVerify(ctx, cmd)
	default:
		return StatusNotHandled
	}
}
