package tcmu

import "context"

// Dispatch routes stub either to the backend's native async path or to the
// worker pool, per spec.md §4.3. The caller (a single-shot or multi-stage
// machine) is responsible for the AIO tracker's start/finish accounting;
// Dispatch only decides who runs stub.Fn and ensures cmd's completion
// callback fires exactly once for whichever arm finishes first.
//
// Dispatch never invokes the completion callback on a path that will also
// invoke it later: StatusAsyncHandled means the backend itself will call
// cmd.Complete out-of-band, and Dispatch returns without touching cmd
// again. Any other returned status means Dispatch already ran cmd.Complete
// synchronously before returning — the caller must not complete cmd itself.
//
// A stub whose Fn returns StatusNotHandled (a HANDLE_CMD passthrough
// declining synchronously) is not terminal by Status.Terminal()'s
// definition, but it is not StatusAsyncHandled either: the backend will
// never call cmd.Complete for it. spec.md §4.4 requires this case rechecked
// here, in the dispatch caller, not only in the completion callback —
// otherwise the command is silently dropped and the tracker never returns
// to idle. Dispatch completes cmd itself with StatusNotHandled so the
// caller's own completion callback (e.g. handleCmdCompletion) runs and can
// fall through to the opcode router.
func (d *Device) Dispatch(ctx context.Context, stub *Stub) Status {
	d.log.Debug("dispatch", "op", stub.Op.String(), "aio", d.backend.AIOSupported())
	if d.backend.AIOSupported() {
		status := stub.exec(ctx)
		if status.Terminal() || status == StatusNotHandled {
			stub.Cmd.Complete(status)
		}
		return status
	}

	cmd := stub.Cmd
	err := d.workers.Submit(func(ctx context.Context) {
		status := stub.exec(ctx)
		cmd.Complete(status)
	})
	if err != nil {
		status := d.mapSubmitError(err)
		d.log.Warn("dispatch submit failed", "op", stub.Op.String(), "status", status.String())
		cmd.Complete(status)
		return status
	}
	return StatusAsyncHandled
}

// finish is the unified finisher (spec.md §4.5): decrements dev's AIO
// tracker, delivers the terminal status to the transport, and nudges
// ProcessingComplete on the idle edge. Every machine's terminal edge routes
// through this exactly once per accepted command.
func (d *Device) finish(cmd *Command, status Status) {
	idle := d.tracker.Finish()
	d.transport.CommandComplete(d, cmd, status)
	if idle {
		d.transport.ProcessingComplete(d)
	}
}

// mapSubmitError maps a workqueue submission failure to a terminal Status,
// per spec.md §4.3's "-ENOMEM -> TASK_SET_FULL-equivalent" allocation-error
// rule.
func (d *Device) mapSubmitError(err error) Status {
	return StatusTaskSetFull
}
