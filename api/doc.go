// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api defines the public contracts of hioload-aio: the Device
// surface callers program against, the narrow Driver contract concrete
// backends implement, buffer and request value types, typed errors, and
// the immutable handle configuration.
//
// The engine behind these contracts moves large contiguous buffers
// between main memory and storage with device-level parallelism. All
// blocking happens either on the caller's goroutine (synchronous calls)
// or on engine worker goroutines (asynchronous calls drained by Wait);
// no background work outlives a handle.
package api
