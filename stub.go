package tcmu

import "context"

// StubFunc is the backend-facing work a Call Stub executes: either the
// backend performs it synchronously and returns a terminal Status (the
// worker-pool arm), or it kicks off async work and returns StatusAsyncHandled,
// completing cmd later via cmd.Complete (the native-async arm). Both arms
// call the same StubFunc; only who calls it, and when, differs.
type StubFunc func(ctx context.Context, cmd *Command) Status

// Stub is the engine's call-stub abstraction (spec.md §4.3/C3): a single
// unit of backend work, tagged with the OpKind the completion path needs to
// pick sense codes, and carrying the function that actually performs it.
type Stub struct {
	Op   OpKind
	Cmd  *Command
	Fn   StubFunc
}

// NewStub builds a Stub for cmd, recording the completion callback onto cmd
// so that whichever arm runs Fn — inline by the Dispatcher for a native
// async backend, or later by a worker goroutine — the completion path is
// already wired regardless of which one executes.
func NewStub(op OpKind, cmd *Command, fn StubFunc, done CompletionFunc) *Stub {
	cmd.done = done
	return &Stub{Op: op, Cmd: cmd, Fn: fn}
}

// exec runs the stub's function against cmd. It does not itself invoke the
// completion callback: a StatusAsyncHandled return means the backend will
// call cmd.Complete later; any other status is terminal and the caller
// (worker pool or inline dispatch) is responsible for completing cmd with
// it, exactly once.
func (s *Stub) exec(ctx context.Context) Status {
	return s.Fn(ctx, s.Cmd)
}
