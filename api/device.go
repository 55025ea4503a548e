// File: api/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The polymorphic device contract. Device is the full caller-facing
// surface implemented by a stateful handle; Driver is the narrow
// contract a concrete backend implements. The submission engine is
// generic over Driver and supplies concurrency, queue-depth bounding,
// submission modes, validation and completion tracking on top of it.

package api

// Device is the caller-facing surface of one device handle.
//
// Synchronous calls (Read, Write, SyncPRead, SyncPWrite, and PRead /
// PWrite with async=false) block until the transfer is terminal.
// Asynchronous calls enqueue and return immediately; errors surface
// from Wait. Every data-moving call on an unloaded handle fails with
// ErrDeviceNotLoaded and performs no I/O.
type Device interface {
	// Read fills buf from path starting at offset 0, blocking until done.
	Read(buf Buffer, path string, validate bool) error
	// Write stores buf to path starting at offset 0, blocking until done.
	Write(buf Buffer, path string, validate bool) error

	// PRead is a positional read. With async=true it enqueues and
	// returns immediately; the caller must later call Wait.
	PRead(buf Buffer, path string, offset int64, validate, async bool) error
	// PWrite is a positional write with the same contract as PRead.
	PWrite(buf Buffer, path string, offset int64, validate, async bool) error

	// SyncPRead and SyncPWrite always block.
	SyncPRead(buf Buffer, path string, offset int64) error
	SyncPWrite(buf Buffer, path string, offset int64) error

	// AsyncPRead and AsyncPWrite always enqueue and never block.
	AsyncPRead(buf Buffer, path string, offset int64) error
	AsyncPWrite(buf Buffer, path string, offset int64) error

	// Wait blocks until every asynchronous request enqueued before the
	// call is terminal, and returns the aggregate outcome. Requests
	// enqueued concurrently with Wait are not covered; callers doing
	// that must synchronize externally.
	Wait() error

	// NewCPULockedBuffer allocates and pins a buffer sized to hold count
	// elements of the same element size as example.
	NewCPULockedBuffer(count int, example Buffer) (LockedBuffer, error)
	// FreeCPULockedBuffer unpins and releases buf. It fails with
	// ErrExcessReference while any in-flight request references buf.
	FreeCPULockedBuffer(buf LockedBuffer) error

	// Memcpy is a plain synchronous copy between two equally sized
	// regions, used to stage data into and out of locked buffers.
	Memcpy(dst, src Buffer) error

	// Configuration accessors; no side effects.
	GetBlockSize() int
	GetQueueDepth() int
	GetSingleSubmit() bool
	GetOverlapEvents() bool
	GetThreadCount() int

	// LoadDevice binds the named backend to the handle. The previous
	// backend, if any, is drained and released first; with requests
	// outstanding it fails fast with ErrReconfigureWhileBusy.
	LoadDevice(deviceType string) error

	// Close drains outstanding work and releases the backend and all
	// engine resources on every exit path.
	Close() error
}

// Driver is the narrow contract each concrete backend implements.
// DoRead and DoWrite transfer exactly len(p) bytes or fail; partial
// transfers are retried inside the driver and an early EOF is reported
// as io.ErrUnexpectedEOF. Both are safe for concurrent use.
type Driver interface {
	// Name returns the registered backend name, e.g. "nvme" or "posix".
	Name() string

	// DoRead fills p from path starting at off.
	DoRead(path string, p []byte, off int64) (int, error)

	// DoWrite stores p to path starting at off, creating the file as
	// needed.
	DoWrite(path string, p []byte, off int64) (int, error)

	// Close releases backend resources. No calls may be in flight.
	Close() error
}

// Await blocks for one previously submitted driver operation and
// returns its transferred byte count.
type Await func() (int, error)

// AsyncDriver is optionally implemented by backends whose OS facility
// accepts submissions without blocking for completion (io_uring, AIO).
// SubmitRead/SubmitWrite return once the operation is accepted by the
// OS queue; the returned Await blocks for its completion. The engine
// uses this split to serialize issuance in single-submit mode without
// serializing completion.
type AsyncDriver interface {
	Driver
	SubmitRead(path string, p []byte, off int64) (Await, error)
	SubmitWrite(path string, p []byte, off int64) (Await, error)
}
