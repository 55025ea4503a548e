// File: core/engine/tracker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion tracker: per-handle bookkeeping of outstanding request
// tokens and their terminal records. Wait is a point-in-time drain of
// everything submitted before the call; on failure the aggregate error
// reports every failed request while peers still run to completion
// (no cancellation-on-first-error, so buffer lifetimes stay safe).

package engine

import (
	"errors"
	"sync"

	"github.com/momentics/hioload-aio/api"
)

// Tracker records outstanding tokens and terminal completions.
type Tracker struct {
	mu          sync.Mutex
	cond        *sync.Cond
	outstanding map[api.Token]struct{}
	records     map[api.Token]api.Completion // terminal async records awaiting Wait
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	t := &Tracker{
		outstanding: make(map[api.Token]struct{}),
		records:     make(map[api.Token]api.Completion),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// add registers a token as outstanding. Called under the engine intake
// lock, before the request is visible to any worker.
func (t *Tracker) add(tok api.Token) {
	t.mu.Lock()
	t.outstanding[tok] = struct{}{}
	t.mu.Unlock()
}

// complete marks a token terminal. Synchronous submissions deliver the
// record straight to their waiter; asynchronous ones are held for Wait.
func (t *Tracker) complete(comp api.Completion, waiter chan api.Completion) {
	t.mu.Lock()
	delete(t.outstanding, comp.Token)
	if waiter == nil {
		t.records[comp.Token] = comp
	}
	t.cond.Broadcast()
	t.mu.Unlock()
	if waiter != nil {
		waiter <- comp
	}
}

// Busy reports whether any token is not yet terminal.
func (t *Tracker) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outstanding) > 0
}

// Wait blocks until every token outstanding at entry is terminal, then
// consumes the matching records and returns their aggregate outcome.
// Records of requests submitted during the wait are left in place for
// the next caller.
func (t *Tracker) Wait() error {
	t.mu.Lock()
	snapshot := make([]api.Token, 0, len(t.outstanding)+len(t.records))
	for tok := range t.outstanding {
		snapshot = append(snapshot, tok)
	}
	for tok := range t.records {
		snapshot = append(snapshot, tok)
	}

	for {
		pending := false
		for _, tok := range snapshot {
			if _, ok := t.outstanding[tok]; ok {
				pending = true
				break
			}
		}
		if !pending {
			break
		}
		t.cond.Wait()
	}

	var failures []error
	for _, tok := range snapshot {
		comp, ok := t.records[tok]
		if !ok {
			continue
		}
		delete(t.records, tok)
		if comp.Err != nil {
			failures = append(failures, comp.Err)
		}
	}
	t.mu.Unlock()

	if len(failures) == 0 {
		return nil
	}
	return errors.Join(failures...)
}

// drainAll blocks until no token is outstanding. Used during teardown;
// leftover records are dropped since no caller can consume them.
func (t *Tracker) drainAll() {
	t.mu.Lock()
	for len(t.outstanding) > 0 {
		t.cond.Wait()
	}
	t.records = make(map[api.Token]api.Completion)
	t.mu.Unlock()
}
