package tcmu

import "github.com/dispatchcore/tcmu/internal/constants"

// OpKind tags a Command with the broad category of operation it carries,
// independent of its exact opcode. It is what the Call Stub (stub.go)
// threads through to the backend entry point and what ErrnoToStatus uses to
// pick the right sense code for a generic I/O failure.
type OpKind int

const (
	// OpRead is a READ-family command.
	OpRead OpKind = iota
	// OpWrite is a WRITE-family command.
	OpWrite
	// OpFlush is a SYNCHRONIZE_CACHE-family command.
	OpFlush
	// OpHandleCmd is a passthrough command routed to Backend.HandleCmd.
	OpHandleCmd
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFlush:
		return "flush"
	case OpHandleCmd:
		return "handle_cmd"
	default:
		return "unknown"
	}
}

// CompletionFunc is invoked exactly once per Command, with the terminal
// Status it completed with. It is recorded on the Command by NewStub before
// the stub is handed to either execution arm (native-async backend call, or worker
// pool), so that whichever arm actually finishes the command — the
// backend's own async callback, or the worker goroutine returning from a
// blocking call — can find it and fire it without needing to know which
// arm ran (spec.md §4.3).
type CompletionFunc func(cmd *Command, status Status)

// Command is one in-flight SCSI command as it moves through the dispatch
// engine. A Command is allocated by the caller (the surrounding target
// framework, out of scope here) and handed to Device.Route; the engine
// never allocates or frees a caller's Command. The CAW and write-verify
// machines allocate their own auxiliary read Commands, along with the
// iovec buffers and per-machine state they attach along the way.
type Command struct {
	// CDB is the raw Command Descriptor Block bytes.
	CDB []byte

	// Iovec is the command's scatter/gather data buffer. For single-shot
	// reads and writes this is the full transfer buffer; CAW and
	// write-verify manage their own internal buffers separately and use
	// this field only for the original caller-supplied payload.
	Iovec [][]byte

	// Sense is the fixed-size sense buffer SetSense fills on error.
	Sense []byte

	// done is the completion callback recorded by NewStub.
	done CompletionFunc

	// state is the opaque per-command slot the CAW and write-verify
	// machines use to thread state across multiple backend calls
	// (*cawState or *writeVerifyState; singleshot machines leave it nil).
	state any

	// devID names the owning device, for error context.
	devID string
}

// NewCommand allocates a Command with a freshly zeroed sense buffer.
func NewCommand(cdb []byte, iovec [][]byte) *Command {
	return &Command{
		CDB:   cdb,
		Iovec: iovec,
		Sense: make([]byte, constants.DefaultSenseBufferSize),
	}
}

// Complete invokes the command's recorded completion callback exactly once.
// It is a programmer error to call this without a callback set (NewStub
// always sets one before a stub can run). It is called by Dispatch and the
// worker pool for statuses returned inline, and by a native-async backend
// once its out-of-band work finishes.
func (c *Command) Complete(status Status) {
	if c.done == nil {
		panic("tcmu: Command.Complete called with no completion callback set")
	}
	done := c.done
	c.done = nil
	done(c, status)
}
