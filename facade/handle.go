// File: facade/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package facade exposes the two caller-facing surfaces of hioload-aio:
// the stateful Handle (construct once, reuse configuration, queue and
// locked buffers across many calls) and stateless one-shot functions
// that construct, use and tear down a handle per call. Both run over
// the same Device contract and submission engine.

package facade

import (
	"sync"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/core/engine"
	"github.com/momentics/hioload-aio/core/pin"
	"github.com/momentics/hioload-aio/device"

	// Built-in backends register themselves with the device registry.
	_ "github.com/momentics/hioload-aio/device/posix"
	_ "github.com/momentics/hioload-aio/device/uring"
)

// Handle is a stateful device handle implementing api.Device. It owns
// its configuration, worker pool, completion tracker and locked-buffer
// registry; exactly one backend is bound at a time. Handles are safe
// for concurrent use; multiple handles share no state.
type Handle struct {
	id   string
	cfg  *api.Config
	pins *pin.Registry

	mu     sync.Mutex
	drv    api.Driver
	eng    *engine.Engine
	closed bool
}

var _ api.Device = (*Handle)(nil)

// NewHandle builds a handle from cfg (nil means api.DefaultConfig). If
// cfg.DeviceType is non-empty, the backend is loaded immediately;
// otherwise the handle starts in the unloaded state and every
// data-moving call fails with ErrDeviceNotLoaded until LoadDevice.
func NewHandle(cfg *api.Config) (*Handle, error) {
	if cfg == nil {
		cfg = api.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Handle{
		id:   uuid.NewString(),
		cfg:  cfg.Clone(),
		pins: pin.NewRegistry(),
	}
	if cfg.DeviceType != "" {
		if err := h.LoadDevice(cfg.DeviceType); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("aio handle %s created: device=%q block=%d depth=%d threads=%d",
		h.id, cfg.DeviceType, cfg.BlockSize, cfg.QueueDepth, cfg.ThreadCount)
	return h, nil
}

// LoadDevice binds the named backend, replacing any previous one. With
// requests outstanding it fails fast with ErrReconfigureWhileBusy; the
// old backend is otherwise drained and released before the swap.
func (h *Handle) LoadDevice(deviceType string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return api.NewError(api.ErrCodeDeviceNotLoaded, "handle is closed")
	}
	if h.eng != nil && h.eng.Busy() {
		return api.NewError(api.ErrCodeReconfigureWhileBusy, "load_device with requests outstanding").
			WithContext("handle", h.id)
	}
	drv, err := device.Open(deviceType, h.cfg)
	if err != nil {
		return err
	}
	if h.eng != nil {
		_ = h.eng.Close()
		if cerr := h.drv.Close(); cerr != nil {
			klog.V(1).Infof("aio handle %s: closing previous backend %s: %v", h.id, h.drv.Name(), cerr)
		}
	}
	h.drv = drv
	h.eng = engine.New(drv, h.cfg, h.pins)
	h.cfg.DeviceType = deviceType
	klog.V(1).Infof("aio handle %s bound to device %s", h.id, drv.Name())
	return nil
}

// engineRef returns the live engine or ErrDeviceNotLoaded.
func (h *Handle) engineRef() (*engine.Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.eng == nil {
		return nil, api.NewError(api.ErrCodeDeviceNotLoaded, "no device loaded").
			WithContext("handle", h.id)
	}
	return h.eng, nil
}

// Read fills buf from path at offset 0, blocking until done.
func (h *Handle) Read(buf api.Buffer, path string, validate bool) error {
	return h.PRead(buf, path, 0, validate, false)
}

// Write stores buf to path at offset 0, blocking until done.
func (h *Handle) Write(buf api.Buffer, path string, validate bool) error {
	return h.PWrite(buf, path, 0, validate, false)
}

// PRead is a positional read; with async=true it enqueues and returns.
func (h *Handle) PRead(buf api.Buffer, path string, offset int64, validate, async bool) error {
	return h.submit(api.Request{Op: api.OpRead, Path: path, Buffer: buf, Offset: offset, Validate: validate}, async)
}

// PWrite is a positional write; with async=true it enqueues and returns.
func (h *Handle) PWrite(buf api.Buffer, path string, offset int64, validate, async bool) error {
	return h.submit(api.Request{Op: api.OpWrite, Path: path, Buffer: buf, Offset: offset, Validate: validate}, async)
}

// SyncPRead always blocks until the read is terminal.
func (h *Handle) SyncPRead(buf api.Buffer, path string, offset int64) error {
	return h.PRead(buf, path, offset, false, false)
}

// SyncPWrite always blocks until the write is terminal.
func (h *Handle) SyncPWrite(buf api.Buffer, path string, offset int64) error {
	return h.PWrite(buf, path, offset, false, false)
}

// AsyncPRead always enqueues; the caller must later call Wait.
func (h *Handle) AsyncPRead(buf api.Buffer, path string, offset int64) error {
	return h.PRead(buf, path, offset, false, true)
}

// AsyncPWrite always enqueues; the caller must later call Wait.
func (h *Handle) AsyncPWrite(buf api.Buffer, path string, offset int64) error {
	return h.PWrite(buf, path, offset, false, true)
}

func (h *Handle) submit(req api.Request, async bool) error {
	eng, err := h.engineRef()
	if err != nil {
		return err
	}
	if async {
		_, err = eng.Submit(req)
		return err
	}
	return eng.SubmitWait(req)
}

// Wait drains every asynchronous request enqueued before the call and
// returns the aggregate outcome.
func (h *Handle) Wait() error {
	eng, err := h.engineRef()
	if err != nil {
		return err
	}
	return eng.Wait()
}

// NewCPULockedBuffer allocates and pins a buffer holding count elements
// of the same element size as example.
func (h *Handle) NewCPULockedBuffer(count int, example api.Buffer) (api.LockedBuffer, error) {
	if _, err := h.engineRef(); err != nil {
		return nil, err
	}
	elem := 1
	if example != nil {
		elem = example.ElemSize()
	}
	return h.pins.NewLocked(count, elem)
}

// FreeCPULockedBuffer unpins and releases buf; it fails with
// ErrExcessReference while in-flight requests reference it.
func (h *Handle) FreeCPULockedBuffer(buf api.LockedBuffer) error {
	if _, err := h.engineRef(); err != nil {
		return err
	}
	return h.pins.Free(buf)
}

// Memcpy synchronously copies src into dst; region lengths must match.
func (h *Handle) Memcpy(dst, src api.Buffer) error {
	if _, err := h.engineRef(); err != nil {
		return err
	}
	if dst == nil || src == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "memcpy requires two buffers")
	}
	if dst.Len() != src.Len() {
		return api.NewError(api.ErrCodeSizeMismatch, "memcpy region lengths differ").
			WithContext("dst", dst.Len()).
			WithContext("src", src.Len())
	}
	copy(dst.Bytes(), src.Bytes())
	return nil
}

// Configuration accessors.
func (h *Handle) GetBlockSize() int      { return h.cfg.BlockSize }
func (h *Handle) GetQueueDepth() int     { return h.cfg.QueueDepth }
func (h *Handle) GetSingleSubmit() bool  { return h.cfg.SingleSubmit }
func (h *Handle) GetOverlapEvents() bool { return h.cfg.OverlapEvents }
func (h *Handle) GetThreadCount() int    { return h.cfg.ThreadCount }

// Stats returns the engine counters, or zeroes while unloaded.
func (h *Handle) Stats() api.EngineStats {
	h.mu.Lock()
	eng := h.eng
	h.mu.Unlock()
	if eng == nil {
		return api.EngineStats{}
	}
	return eng.Stats()
}

// Close drains outstanding work and releases the backend, the engine
// and every locked buffer. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	eng, drv := h.eng, h.drv
	h.eng, h.drv = nil, nil
	h.mu.Unlock()

	var firstErr error
	if eng != nil {
		firstErr = eng.Close()
	}
	if drv != nil {
		if err := drv.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := h.pins.ReleaseAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	klog.V(1).Infof("aio handle %s closed", h.id)
	return firstErr
}
