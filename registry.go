package tcmu

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry is the device registrar spec.md §3 assumes as an external
// collaborator: it tracks the set of live Devices a process is serving and
// closes them down concurrently. It does not wait for any device's AIO
// tracker to go idle; see CloseAll.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Add registers dev under its ID. It returns an error if a device with the
// same ID is already registered.
func (r *Registry) Add(dev *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[dev.ID()]; exists {
		return NewDeviceError("registry_add", dev.ID(), ErrCodeInvalidParameters, "device already registered")
	}
	r.devices[dev.ID()] = dev
	return nil
}

// Remove unregisters the device with the given ID, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
}

// Get returns the device registered under id, if any.
func (r *Registry) Get(id string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[id]
	return dev, ok
}

// Devices returns a snapshot of the currently registered devices.
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev)
	}
	return out
}

// CloseAll closes every registered device concurrently, returning the
// first error encountered (if any) once all have finished. Each Device's
// own quiescence precondition (spec.md §3: "destroyed only after the
// tracker reports idle") is the caller's responsibility before invoking
// CloseAll, same as for a single Device.Close.
func (r *Registry) CloseAll(ctx context.Context) error {
	devices := r.Devices()

	g, ctx := errgroup.WithContext(ctx)
	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			return dev.Close(ctx)
		})
	}
	err := g.Wait()

	r.mu.Lock()
	r.devices = make(map[string]*Device)
	r.mu.Unlock()

	return err
}
