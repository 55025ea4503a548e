// File: core/engine/engine_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package engine_test

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/core/engine"
	"github.com/momentics/hioload-aio/core/pin"
)

// fakeDriver is an in-memory backend that records concurrency and
// issuance order for scheduler assertions.
type fakeDriver struct {
	mu    sync.Mutex
	files map[string][]byte
	order []int64 // offsets in issuance order

	delay    time.Duration
	gate     chan struct{} // when non-nil, Do blocks until the gate closes
	entered  chan struct{} // signaled once per Do entry when non-nil
	failPath string

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{files: make(map[string][]byte)}
}

func (d *fakeDriver) Name() string { return "fake" }
func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) enter(off int64) {
	cur := d.inFlight.Add(1)
	for {
		max := d.maxInFlight.Load()
		if cur <= max || d.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	d.mu.Lock()
	d.order = append(d.order, off)
	d.mu.Unlock()
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.gate != nil {
		<-d.gate
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
}

func (d *fakeDriver) leave() { d.inFlight.Add(-1) }

func (d *fakeDriver) DoRead(path string, p []byte, off int64) (int, error) {
	d.enter(off)
	defer d.leave()
	if path == d.failPath {
		return 0, errors.New("injected read failure")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[path]
	if !ok {
		return 0, errors.Errorf("no such file: %s", path)
	}
	if int(off) >= len(data) {
		return 0, errors.Wrap(io.ErrUnexpectedEOF, path)
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, errors.Wrap(io.ErrUnexpectedEOF, path)
	}
	return n, nil
}

func (d *fakeDriver) DoWrite(path string, p []byte, off int64) (int, error) {
	d.enter(off)
	defer d.leave()
	if path == d.failPath {
		return 0, errors.New("injected write failure")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	data := d.files[path]
	need := int(off) + len(p)
	if len(data) < need {
		grown := make([]byte, need)
		copy(grown, data)
		data = grown
	}
	copy(data[off:], p)
	d.files[path] = data
	return len(p), nil
}

func cfg(depth, threads int, single, overlap bool) *api.Config {
	c := api.DefaultConfig()
	c.BlockSize = 4096
	c.QueueDepth = depth
	c.ThreadCount = threads
	c.SingleSubmit = single
	c.OverlapEvents = overlap
	return c
}

func TestRoundTripSyncAndAsync(t *testing.T) {
	drv := newFakeDriver()
	e := engine.New(drv, cfg(4, 2, false, true), nil)
	defer e.Close()

	payload := make([]byte, 8192)
	rand.Read(payload)

	err := e.SubmitWait(api.Request{Op: api.OpWrite, Path: "a", Buffer: api.Wrap(payload), Validate: false})
	require.NoError(t, err)

	got := make([]byte, len(payload))
	err = e.SubmitWait(api.Request{Op: api.OpRead, Path: "a", Buffer: api.Wrap(got)})
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))

	// Async path into a second file, drained by Wait.
	_, err = e.Submit(api.Request{Op: api.OpWrite, Path: "b", Buffer: api.Wrap(payload)})
	require.NoError(t, err)
	require.NoError(t, e.Wait())

	got2 := make([]byte, len(payload))
	_, err = e.Submit(api.Request{Op: api.OpRead, Path: "b", Buffer: api.Wrap(got2)})
	require.NoError(t, err)
	require.NoError(t, e.Wait())
	require.True(t, bytes.Equal(payload, got2))
}

func TestQueueDepthBound(t *testing.T) {
	for _, overlap := range []bool{true, false} {
		t.Run(fmt.Sprintf("overlap=%v", overlap), func(t *testing.T) {
			drv := newFakeDriver()
			drv.delay = 2 * time.Millisecond
			const depth = 4
			e := engine.New(drv, cfg(depth, 8, false, overlap), nil)
			defer e.Close()

			buf := api.Wrap(make([]byte, 64))
			for i := 0; i < 64; i++ {
				_, err := e.Submit(api.Request{Op: api.OpWrite, Path: "load", Buffer: buf, Offset: int64(i * 64)})
				require.NoError(t, err)
			}
			require.NoError(t, e.Wait())

			assert.LessOrEqual(t, drv.maxInFlight.Load(), int64(depth), "driver observed too many concurrent ops")
			assert.LessOrEqual(t, e.Stats().MaxInFlight, int64(depth), "engine high-water mark above depth")
			assert.Equal(t, uint64(64), e.Stats().Completed)
		})
	}
}

func TestWaitDrainsAllPriorWork(t *testing.T) {
	drv := newFakeDriver()
	drv.delay = time.Millisecond
	e := engine.New(drv, cfg(4, 2, false, true), nil)
	defer e.Close()

	buf := api.Wrap(make([]byte, 128))
	const n = 16
	for i := 0; i < n; i++ {
		_, err := e.Submit(api.Request{Op: api.OpWrite, Path: "w", Buffer: buf, Offset: int64(i * 128)})
		require.NoError(t, err)
	}
	require.NoError(t, e.Wait())
	require.False(t, e.Busy())
	require.Equal(t, uint64(n), e.Stats().Completed)

	// A fresh batch starts with no residual state.
	_, err := e.Submit(api.Request{Op: api.OpRead, Path: "w", Buffer: buf})
	require.NoError(t, err)
	require.NoError(t, e.Wait())
}

func TestFailuresAggregateWithoutCancellation(t *testing.T) {
	drv := newFakeDriver()
	drv.failPath = "bad"
	e := engine.New(drv, cfg(4, 2, false, true), nil)
	defer e.Close()

	buf := api.Wrap(make([]byte, 32))
	for i := 0; i < 6; i++ {
		path := "good"
		if i%3 == 0 {
			path = "bad"
		}
		_, err := e.Submit(api.Request{Op: api.OpWrite, Path: path, Buffer: buf, Offset: int64(i * 32)})
		require.NoError(t, err)
	}
	err := e.Wait()
	require.Error(t, err)
	require.ErrorIs(t, err, api.ErrIO)

	st := e.Stats()
	assert.Equal(t, uint64(2), st.Failed)
	assert.Equal(t, uint64(4), st.Completed, "peer requests must still run to completion")

	// The failed batch is consumed; the next wait is clean.
	require.NoError(t, e.Wait())
}

func TestSingleSubmitIssuesInArrivalOrder(t *testing.T) {
	drv := newFakeDriver()
	e := engine.New(drv, cfg(4, 4, true, true), nil)
	defer e.Close()

	buf := api.Wrap(make([]byte, 16))
	const n = 32
	for i := 0; i < n; i++ {
		_, err := e.Submit(api.Request{Op: api.OpWrite, Path: "ord", Buffer: buf, Offset: int64(i)})
		require.NoError(t, err)
	}
	require.NoError(t, e.Wait())

	require.Len(t, drv.order, n)
	for i, off := range drv.order {
		require.Equal(t, int64(i), off, "issuance order diverged at %d", i)
	}
}

func TestShortReadClassification(t *testing.T) {
	drv := newFakeDriver()
	drv.files["short"] = make([]byte, 100)
	e := engine.New(drv, cfg(2, 1, false, true), nil)
	defer e.Close()

	buf := api.Wrap(make([]byte, 200))
	err := e.SubmitWait(api.Request{Op: api.OpRead, Path: "short", Buffer: buf})
	require.ErrorIs(t, err, api.ErrIO)

	err = e.SubmitWait(api.Request{Op: api.OpRead, Path: "short", Buffer: buf, Validate: true})
	require.ErrorIs(t, err, api.ErrValidation)
}

func TestInvalidRequestsRejectedAtCallSite(t *testing.T) {
	drv := newFakeDriver()
	e := engine.New(drv, cfg(2, 1, false, true), nil)
	defer e.Close()

	buf := api.Wrap(make([]byte, 8))
	_, err := e.Submit(api.Request{Op: api.OpWrite, Path: "", Buffer: buf})
	require.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = e.Submit(api.Request{Op: api.OpWrite, Path: "x", Buffer: nil})
	require.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = e.Submit(api.Request{Op: api.OpWrite, Path: "x", Buffer: buf, Offset: -1})
	require.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = e.Submit(api.Request{Path: "x", Buffer: buf})
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestLockedBufferRefusedWhileInFlight(t *testing.T) {
	drv := newFakeDriver()
	drv.gate = make(chan struct{})
	drv.entered = make(chan struct{}, 1)

	reg := pin.NewRegistry()
	e := engine.New(drv, cfg(2, 1, false, true), reg)
	defer e.Close()

	lb, err := reg.NewLocked(256, 1)
	require.NoError(t, err)

	_, err = e.Submit(api.Request{Op: api.OpWrite, Path: "pinned", Buffer: lb})
	require.NoError(t, err)

	<-drv.entered // the request is now in flight
	err = reg.Free(lb)
	require.ErrorIs(t, err, api.ErrExcessReference)

	close(drv.gate)
	require.NoError(t, e.Wait())
	require.NoError(t, reg.Free(lb))
}

func TestSubmitAfterCloseFails(t *testing.T) {
	drv := newFakeDriver()
	e := engine.New(drv, cfg(2, 1, false, true), nil)
	require.NoError(t, e.Close())

	_, err := e.Submit(api.Request{Op: api.OpWrite, Path: "x", Buffer: api.Wrap(make([]byte, 8))})
	require.Error(t, err)
}
