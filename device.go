package tcmu

import (
	"context"
	"sync"

	"github.com/dispatchcore/tcmu/internal/aiotrack"
	"github.com/dispatchcore/tcmu/internal/constants"
	"github.com/dispatchcore/tcmu/internal/logging"
	"github.com/dispatchcore/tcmu/internal/workqueue"
)

// DeviceParams configures a Device at creation time.
type DeviceParams struct {
	// ID names the device for logging and error context.
	ID string
	// LogicalBlockSize is the device's block size in bytes.
	LogicalBlockSize uint32
	// WorkerCount sizes the fallback worker pool for backends without
	// native async support. Per spec.md §9's design notes, raising this
	// above 1 trades away intra-device FIFO ordering; callers that do
	// must serialize overlapping LBA ranges themselves.
	WorkerCount int
	// QueueDepth bounds the worker pool's pending-work FIFO.
	QueueDepth int
}

func (p DeviceParams) withDefaults() DeviceParams {
	if p.LogicalBlockSize == 0 {
		p.LogicalBlockSize = constants.DefaultLogicalBlockSize
	}
	if p.WorkerCount <= 0 {
		p.WorkerCount = constants.DefaultWorkerCount
	}
	if p.QueueDepth <= 0 {
		p.QueueDepth = 64
	}
	return p
}

// Option configures a Device at construction time.
type Option func(*Device)

// WithLogger overrides the device's logger. A nil l leaves the device's
// default logger in place rather than disabling logging, so callers can
// pass an optional, possibly-nil Logger through without a guard of their
// own.
func WithLogger(l *logging.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// WithObserver registers a metrics Observer for the device.
func WithObserver(o Observer) Option {
	return func(d *Device) { d.observer = o }
}

// Device is one logical unit's worth of dispatch state: the backend it
// drives, the AIO tracker counting its in-flight commands, and — for
// backends without native async support — a worker pool (spec.md §3).
type Device struct {
	id     string
	params DeviceParams

	backend   Backend
	transport Transport

	tracker *aiotrack.Tracker
	workers *workqueue.Queue

	log      *logging.Logger
	observer Observer

	closeOnce sync.Once
}

// NewDevice constructs a Device over backend, driven by transport. If the
// backend does not support native async I/O, a worker pool is started
// immediately; it is torn down in Close.
func NewDevice(params DeviceParams, backend Backend, transport Transport, opts ...Option) (*Device, error) {
	if backend == nil || transport == nil {
		return nil, NewError("new_device", ErrCodeInvalidParameters, "backend and transport are required")
	}
	params = params.withDefaults()

	d := &Device{
		id:        params.ID,
		params:    params,
		backend:   backend,
		transport: transport,
		tracker:   aiotrack.New(),
		log:       logging.Default(),
		observer:  NoOpObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithDevice(d.id)

	if !backend.AIOSupported() {
		d.workers = workqueue.New(params.WorkerCount, params.QueueDepth)
	}

	if err := backend.Open(context.Background()); err != nil {
		if d.workers != nil {
			d.workers.Stop()
		}
		return nil, WrapError("open", err)
	}

	return d, nil
}

// ID returns the device's name.
func (d *Device) ID() string { return d.id }

// Close stops the device's worker pool (if any) and closes the backend.
// The caller must have already quiesced the device (no further Dispatch
// calls, and the AIO tracker has reached idle) before calling Close;
// spec.md's concurrency model treats teardown-while-in-flight as the
// caller's error to avoid, not the engine's to detect.
func (d *Device) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		if d.workers != nil {
			d.workers.Stop()
		}
		err = d.backend.Close(ctx)
	})
	return err
}
