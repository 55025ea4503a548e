// File: api/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Request and completion value types. A Request is immutable once
// submitted; it transitions queued -> submitted -> complete|failed and
// is discarded after its completion is observed.

package api

// Op is the transfer direction of a request.
type Op uint8

const (
	OpRead Op = iota + 1
	OpWrite
)

func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Token identifies one submitted request within a handle. Tokens are
// assigned in submission order and never reused by the same handle.
type Token uint64

// Request describes one transfer between a buffer and a file target.
type Request struct {
	Op       Op
	Path     string
	Buffer   Buffer
	Offset   int64
	Validate bool
}

// Completion is the terminal record of one request. It is owned by the
// completion tracker until consumed by Wait (asynchronous requests) or
// delivered to the blocked caller (synchronous requests).
type Completion struct {
	Token Token
	Op    Op
	Path  string
	Bytes int
	Err   error
}

// Failed reports whether the request reached a terminal error state.
func (c Completion) Failed() bool { return c.Err != nil }
