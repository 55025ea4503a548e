// File: api/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Immutable per-handle configuration. All fields influence the worker
// pool and submission engine built for the handle and cannot change at
// runtime; rebinding a backend requires the handle to be idle.

package api

// Config holds parameters immutable per handle.
type Config struct {
	DeviceType    string // Registered backend name; empty starts the handle unloaded
	BlockSize     int    // I/O chunk size in bytes; power of two
	QueueDepth    int    // Max concurrently in-flight requests per handle
	SingleSubmit  bool   // Issue requests to the OS one at a time in arrival order
	OverlapEvents bool   // Pipeline completion polling with new submissions
	ThreadCount   int    // Number of engine worker goroutines
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		DeviceType:    "",        // no backend bound until LoadDevice
		BlockSize:     1 << 20,   // 1 MiB transfer chunks
		QueueDepth:    8,         // eight in-flight requests
		SingleSubmit:  false,     // batch submission
		OverlapEvents: true,      // pipelined completion polling
		ThreadCount:   1,         // one submission worker
	}
}

// Validate checks the configuration at handle construction time.
func (c *Config) Validate() error {
	if c.BlockSize <= 0 || c.BlockSize&(c.BlockSize-1) != 0 {
		return NewError(ErrCodeInvalidArgument, "block size must be a positive power of two").
			WithContext("block_size", c.BlockSize)
	}
	if c.QueueDepth <= 0 {
		return NewError(ErrCodeInvalidArgument, "queue depth must be positive").
			WithContext("queue_depth", c.QueueDepth)
	}
	if c.ThreadCount <= 0 {
		return NewError(ErrCodeInvalidArgument, "thread count must be positive").
			WithContext("thread_count", c.ThreadCount)
	}
	return nil
}

// Clone returns a copy so the handle can own its configuration.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
