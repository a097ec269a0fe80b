package tcmu

import "context"

// Backend is the storage adapter the dispatch engine drives (spec.md §6).
// Implementations may be purely synchronous (AIOSupported returns false,
// and every call runs on the worker pool) or natively asynchronous
// (AIOSupported returns true; ReadAt/WriteAt/Flush kick off work and
// arrange for cmd.Complete to be called later, and the engine ignores
// their return values and reports StatusAsyncHandled for them).
type Backend interface {
	// Open prepares the backend for use.
	Open(ctx context.Context) error
	// Close releases backend resources. Device.Close calls it without
	// checking the AIO tracker; quiescing the device first is the caller's
	// responsibility.
	Close(ctx context.Context) error

	// ReadAt reads len(iovec flattened) bytes at off into iov, returning the
	// number of bytes transferred or an error (typically a unix.Errno).
	ReadAt(ctx context.Context, cmd *Command, iov [][]byte, off int64) (int, error)
	// WriteAt writes the bytes in iov at off, returning the number of bytes
	// transferred or an error.
	WriteAt(ctx context.Context, cmd *Command, iov [][]byte, off int64) (int, error)
	// Flush commits any buffered writes to stable storage.
	Flush(ctx context.Context, cmd *Command) error

	// AIOSupported reports whether this backend completes ReadAt/WriteAt/
	// Flush asynchronously (dispatched to the caller's own goroutine,
	// completing cmd itself) or synchronously (run on the worker pool).
	AIOSupported() bool
}

// HandleCmdBackend is implemented by backends that want a chance to
// intercept a command before the router's per-opcode machines run
// (spec.md §4.4's passthrough step). Returning StatusNotHandled falls
// through to the normal opcode routing.
type HandleCmdBackend interface {
	HandleCmd(ctx context.Context, cmd *Command) Status
}

// LockBackend is implemented by backends with an HA lock to acquire before
// serving I/O. The engine never calls Lock itself (HA arbitration policy is
// out of scope per spec.md §1); it exists so adapters have a conventional
// place to hang the hook. Device neither calls nor exposes it.
type LockBackend interface {
	Lock(ctx context.Context) error
}

// Transport is the set of upcalls the engine makes into the surrounding
// target framework (spec.md §6). A Device is constructed with exactly one
// Transport, which must tolerate being called from any goroutine (the
// inline dispatch path, a worker goroutine, or a backend's own async
// completion goroutine).
type Transport interface {
	// CommandComplete is called exactly once per accepted command.
	CommandComplete(dev *Device, cmd *Command, status Status)
	// ProcessingComplete is the idle-edge nudge: called at least once
	// after the tracker transitions to zero in-flight.
	ProcessingComplete(dev *Device)
	// NotifyLockLost escalates a lost HA lock (classified via
	// ClassifyTransportLoss).
	NotifyLockLost(dev *Device)
	// NotifyConnLost escalates a lost connection to the backing store.
	NotifyConnLost(dev *Device)
}
