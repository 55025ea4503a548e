// File: core/engine/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package engine implements the bounded-concurrency submission engine
// behind a device handle: a fixed pool of worker goroutines pulls
// requests from a FIFO intake queue and issues them against a backend
// driver, keeping at most queue-depth operations in flight.
//
// Two submission modes are supported. In single-submit mode requests
// are issued to the OS one at a time in arrival order; the next is not
// issued until the previous has been accepted by the OS queue. In batch
// mode (the default) workers issue freely up to the depth bound. When
// overlapped events are disabled the engine additionally drains every
// in-flight completion before opening the next batch.

package engine

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"k8s.io/klog/v2"

	"github.com/momentics/hioload-aio/api"
)

// ErrEngineClosed is returned for submissions after Close.
var ErrEngineClosed = api.NewError(api.ErrCodeInvalidArgument, "engine is closed")

// Retainer pins a buffer for the duration of one request. The returned
// function releases the reference once the request is terminal.
type Retainer interface {
	Retain(api.Buffer) func()
}

// item is one queued request plus its engine-side bookkeeping.
type item struct {
	req     api.Request
	tok     api.Token
	waiter  chan api.Completion // non-nil for synchronous submissions
	release func()
}

// Engine schedules requests for one device handle against one driver.
type Engine struct {
	drv  api.Driver
	adrv api.AsyncDriver // non-nil when drv supports split submission
	ret  Retainer

	depth   int
	single  bool
	overlap bool

	qmu     sync.Mutex
	qcond   *sync.Cond
	intake  *queue.Queue
	stopped bool
	closed  bool

	issueMu sync.Mutex    // serializes issuance in single-submit mode
	sem     chan struct{} // depth bound in overlapped mode

	// batch accounting in non-overlapped mode
	bmu           sync.Mutex
	bcond         *sync.Cond
	batchIssued   int
	batchInFlight int

	tracker *Tracker
	nextTok atomic.Uint64
	wg      sync.WaitGroup

	inFlight     atomic.Int64
	maxInFlight  atomic.Int64
	submitted    atomic.Uint64
	completed    atomic.Uint64
	failed       atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// New builds an engine over drv and starts cfg.ThreadCount workers.
// ret may be nil when no buffer registry is attached.
func New(drv api.Driver, cfg *api.Config, ret Retainer) *Engine {
	e := &Engine{
		drv:     drv,
		ret:     ret,
		depth:   cfg.QueueDepth,
		single:  cfg.SingleSubmit,
		overlap: cfg.OverlapEvents,
		intake:  queue.New(),
		sem:     make(chan struct{}, cfg.QueueDepth),
		tracker: NewTracker(),
	}
	e.qcond = sync.NewCond(&e.qmu)
	e.bcond = sync.NewCond(&e.bmu)
	if ad, ok := drv.(api.AsyncDriver); ok {
		e.adrv = ad
	}
	for i := 0; i < cfg.ThreadCount; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	klog.V(1).Infof("aio engine started: driver=%s depth=%d workers=%d single_submit=%v overlap_events=%v",
		drv.Name(), cfg.QueueDepth, cfg.ThreadCount, cfg.SingleSubmit, cfg.OverlapEvents)
	return e
}

// Submit enqueues req asynchronously and returns its token.
func (e *Engine) Submit(req api.Request) (api.Token, error) {
	return e.enqueue(req, nil)
}

// SubmitWait enqueues req and blocks until it is terminal. The result
// is delivered directly to the caller and is not held for Wait.
func (e *Engine) SubmitWait(req api.Request) error {
	waiter := make(chan api.Completion, 1)
	if _, err := e.enqueue(req, waiter); err != nil {
		return err
	}
	comp := <-waiter
	return comp.Err
}

func (e *Engine) enqueue(req api.Request, waiter chan api.Completion) (api.Token, error) {
	if err := checkRequest(req); err != nil {
		return 0, err
	}
	it := &item{req: req, waiter: waiter}

	e.qmu.Lock()
	if e.closed {
		e.qmu.Unlock()
		return 0, ErrEngineClosed
	}
	it.tok = api.Token(e.nextTok.Add(1))
	e.tracker.add(it.tok)
	if e.ret != nil {
		it.release = e.ret.Retain(req.Buffer)
	}
	e.intake.Add(it)
	e.submitted.Add(1)
	e.qcond.Broadcast()
	e.qmu.Unlock()
	return it.tok, nil
}

func checkRequest(req api.Request) error {
	if req.Op != api.OpRead && req.Op != api.OpWrite {
		return api.NewError(api.ErrCodeInvalidArgument, "unknown request direction")
	}
	if req.Path == "" {
		return api.NewError(api.ErrCodeInvalidArgument, "empty file target")
	}
	if req.Buffer == nil || req.Buffer.Len() == 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "empty buffer region").
			WithContext("path", req.Path)
	}
	if req.Offset < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "negative file offset").
			WithContext("path", req.Path).
			WithContext("offset", req.Offset)
	}
	return nil
}

// Wait blocks until every asynchronous request enqueued before the call
// is terminal and returns the aggregate outcome. This is a point-in-time
// drain: requests enqueued during the wait are not covered.
func (e *Engine) Wait() error {
	return e.tracker.Wait()
}

// Busy reports whether any request is queued or in flight.
func (e *Engine) Busy() bool {
	return e.tracker.Busy()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() api.EngineStats {
	return api.EngineStats{
		Submitted:    e.submitted.Load(),
		Completed:    e.completed.Load(),
		Failed:       e.failed.Load(),
		InFlight:     e.inFlight.Load(),
		MaxInFlight:  e.maxInFlight.Load(),
		BytesRead:    e.bytesRead.Load(),
		BytesWritten: e.bytesWritten.Load(),
	}
}

// Close drains all outstanding requests, stops the workers and waits
// for them to exit. The driver itself is owned by the handle and is not
// closed here.
func (e *Engine) Close() error {
	e.qmu.Lock()
	if e.closed {
		e.qmu.Unlock()
		return nil
	}
	e.closed = true
	e.qmu.Unlock()

	e.tracker.drainAll()

	e.qmu.Lock()
	e.stopped = true
	e.qcond.Broadcast()
	e.qmu.Unlock()
	e.wg.Wait()
	klog.V(1).Infof("aio engine stopped: driver=%s %s", e.drv.Name(), e.Stats())
	return nil
}

// next blocks until an item is available or the engine stops.
func (e *Engine) next() (*item, bool) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	for e.intake.Length() == 0 && !e.stopped {
		e.qcond.Wait()
	}
	if e.intake.Length() == 0 {
		return nil, false
	}
	return e.intake.Remove().(*item), true
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	for {
		if e.single {
			if !e.singleCycle() {
				return
			}
			continue
		}
		it, ok := e.next()
		if !ok {
			return
		}
		e.acquireSlot()
		n, err := e.issue(it)
		e.finish(it, n, err)
		e.releaseSlot()
	}
}

// singleCycle performs one dequeue-and-issue step with the issue lock
// held, so requests hit the OS strictly in arrival order. For split
// (async) drivers the lock is dropped as soon as the OS has accepted
// the submission; completion is awaited concurrently.
func (e *Engine) singleCycle() bool {
	e.issueMu.Lock()
	it, ok := e.next()
	if !ok {
		e.issueMu.Unlock()
		return false
	}
	e.acquireSlot()

	if e.adrv != nil {
		await, err := e.submitSplit(it.req)
		e.issueMu.Unlock()
		var n int
		if err == nil {
			n, err = await()
		}
		e.finish(it, n, err)
		e.releaseSlot()
		return true
	}

	n, err := e.issueBlocking(it.req)
	e.issueMu.Unlock()
	e.finish(it, n, err)
	e.releaseSlot()
	return true
}

// issue runs one request against the driver, preferring the split
// submission path when the backend offers one.
func (e *Engine) issue(it *item) (int, error) {
	if e.adrv != nil {
		await, err := e.submitSplit(it.req)
		if err != nil {
			return 0, err
		}
		return await()
	}
	return e.issueBlocking(it.req)
}

func (e *Engine) submitSplit(req api.Request) (api.Await, error) {
	p := req.Buffer.Bytes()
	if req.Op == api.OpRead {
		return e.adrv.SubmitRead(req.Path, p, req.Offset)
	}
	return e.adrv.SubmitWrite(req.Path, p, req.Offset)
}

func (e *Engine) issueBlocking(req api.Request) (int, error) {
	p := req.Buffer.Bytes()
	if req.Op == api.OpRead {
		return e.drv.DoRead(req.Path, p, req.Offset)
	}
	return e.drv.DoWrite(req.Path, p, req.Offset)
}

// finish classifies the outcome, updates counters, releases the buffer
// reference and hands the completion to the tracker.
func (e *Engine) finish(it *item, n int, err error) {
	err = e.classify(it, n, err)
	if err == nil {
		e.completed.Add(1)
		if it.req.Op == api.OpRead {
			e.bytesRead.Add(uint64(n))
		} else {
			e.bytesWritten.Add(uint64(n))
		}
	} else {
		e.failed.Add(1)
		klog.V(2).Infof("aio request failed: token=%d op=%s path=%s: %v", it.tok, it.req.Op, it.req.Path, err)
	}
	if it.release != nil {
		it.release()
	}
	comp := api.Completion{Token: it.tok, Op: it.req.Op, Path: it.req.Path, Bytes: n, Err: err}
	e.tracker.complete(comp, it.waiter)
}

// classify turns driver errors into typed terminal errors and performs
// the post-transfer validation checks.
func (e *Engine) classify(it *item, n int, err error) error {
	req := it.req
	if err != nil {
		code := api.ErrCodeIO
		if req.Validate && errors.Is(err, io.ErrUnexpectedEOF) {
			code = api.ErrCodeValidation
		}
		return api.WrapError(code, err, req.Op.String()+" failed").
			WithContext("path", req.Path).
			WithContext("offset", req.Offset).
			WithContext("token", it.tok)
	}
	if n != req.Buffer.Len() {
		code := api.ErrCodeSizeMismatch
		if req.Validate {
			code = api.ErrCodeValidation
		}
		return api.NewError(code, "short transfer").
			WithContext("path", req.Path).
			WithContext("expected", req.Buffer.Len()).
			WithContext("transferred", n)
	}
	if req.Validate {
		if err := validateTarget(req); err != nil {
			return err
		}
	}
	return nil
}

// validateTarget re-checks the file against the transferred region.
func validateTarget(req api.Request) error {
	fi, err := os.Stat(req.Path)
	if err != nil {
		return api.WrapError(api.ErrCodeValidation, err, "validating file target").
			WithContext("path", req.Path)
	}
	want := req.Offset + int64(req.Buffer.Len())
	if fi.Size() < want {
		return api.NewError(api.ErrCodeValidation, "file shorter than transferred region").
			WithContext("path", req.Path).
			WithContext("file_size", fi.Size()).
			WithContext("expected_at_least", want)
	}
	return nil
}

// acquireSlot enforces the queue-depth bound. In non-overlapped mode it
// additionally holds back new issuance until the previous batch has
// fully drained.
func (e *Engine) acquireSlot() {
	if e.overlap {
		e.sem <- struct{}{}
	} else {
		e.bmu.Lock()
		for e.batchIssued >= e.depth {
			e.bcond.Wait()
		}
		e.batchIssued++
		e.batchInFlight++
		e.bmu.Unlock()
	}
	cur := e.inFlight.Add(1)
	for {
		max := e.maxInFlight.Load()
		if cur <= max || e.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
}

func (e *Engine) releaseSlot() {
	e.inFlight.Add(-1)
	if e.overlap {
		<-e.sem
		return
	}
	e.bmu.Lock()
	e.batchInFlight--
	if e.batchInFlight == 0 {
		e.batchIssued = 0
		e.bcond.Broadcast()
	}
	e.bmu.Unlock()
}
