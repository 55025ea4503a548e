// File: core/pin/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package pin manages locked (pinned, non-pageable) memory regions that
// are safe to hand to the OS asynchronous I/O facility. There is no
// pooling or reuse across calls: allocation and free are a direct pair.
// The registry reference-counts each buffer so that free is rejected
// with ErrExcessReference while requests referencing it are in flight.

package pin

import (
	"sync"

	"github.com/momentics/hioload-aio/api"
)

// Buffer is a locked memory region identified by address and length.
// It implements api.LockedBuffer.
type Buffer struct {
	raw      []byte // full OS mapping, nil when heap-backed
	data     []byte // caller-visible view
	elemSize int
	pinned   bool

	reg  *Registry
	refs int // guarded by reg.mu
}

func (b *Buffer) Bytes() []byte { return b.data }
func (b *Buffer) Len() int      { return len(b.data) }
func (b *Buffer) ElemSize() int { return b.elemSize }
func (b *Buffer) Pinned() bool  { return b.pinned }

// Registry tracks the locked buffers of one device handle.
type Registry struct {
	mu   sync.Mutex
	bufs map[*Buffer]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bufs: make(map[*Buffer]struct{})}
}

// NewLocked allocates and pins a region holding count elements of
// elemSize bytes each. Pinning failures (OS resource limits) surface as
// ErrAllocation.
func (r *Registry) NewLocked(count, elemSize int) (*Buffer, error) {
	if count <= 0 || elemSize <= 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "locked buffer dimensions must be positive").
			WithContext("count", count).
			WithContext("elem_size", elemSize)
	}
	size := count * elemSize
	raw, view, pinned, err := alloc(size)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeAllocation, err, "pinning locked buffer").
			WithContext("bytes", size)
	}
	b := &Buffer{raw: raw, data: view, elemSize: elemSize, pinned: pinned, reg: r}
	r.mu.Lock()
	r.bufs[b] = struct{}{}
	r.mu.Unlock()
	return b, nil
}

// Free unpins and releases buf. It fails with ErrExcessReference while
// in-flight requests still reference the buffer, and with
// ErrInvalidArgument for buffers this registry does not own.
func (r *Registry) Free(buf api.LockedBuffer) error {
	b, ok := buf.(*Buffer)
	if !ok || b.reg != r {
		return api.NewError(api.ErrCodeInvalidArgument, "buffer was not allocated by this registry")
	}
	r.mu.Lock()
	if _, live := r.bufs[b]; !live {
		r.mu.Unlock()
		return api.NewError(api.ErrCodeInvalidArgument, "buffer already freed")
	}
	if b.refs > 0 {
		refs := b.refs
		r.mu.Unlock()
		return api.NewError(api.ErrCodeExcessReference, "locked buffer still referenced by in-flight requests").
			WithContext("refs", refs)
	}
	delete(r.bufs, b)
	r.mu.Unlock()
	return release(b)
}

// Retain marks buf as referenced by an in-flight request and returns
// the matching release function. Buffers not owned by this registry
// (plain heap slices) get a no-op release.
func (r *Registry) Retain(buf api.Buffer) func() {
	b, ok := buf.(*Buffer)
	if !ok || b.reg != r {
		return func() {}
	}
	r.mu.Lock()
	b.refs++
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		b.refs--
		r.mu.Unlock()
	}
}

// ReleaseAll force-releases every live buffer. Only called during handle
// teardown, after the engine has drained all in-flight requests.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	bufs := make([]*Buffer, 0, len(r.bufs))
	for b := range r.bufs {
		bufs = append(bufs, b)
	}
	r.bufs = make(map[*Buffer]struct{})
	r.mu.Unlock()

	var firstErr error
	for _, b := range bufs {
		if err := release(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Live returns the number of buffers currently allocated.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bufs)
}
