// File: api/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine accounting, exposed for observability and for load tests that
// assert the queue-depth bound.

package api

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// EngineStats aggregates per-handle submission engine counters.
type EngineStats struct {
	Submitted    uint64 // requests accepted by the engine
	Completed    uint64 // requests that reached a terminal success state
	Failed       uint64 // requests that reached a terminal error state
	InFlight     int64  // requests currently issued and not yet terminal
	MaxInFlight  int64  // high-water mark of InFlight over the handle lifetime
	BytesRead    uint64
	BytesWritten uint64
}

func (s EngineStats) String() string {
	return fmt.Sprintf("submitted=%d completed=%d failed=%d inflight=%d max_inflight=%d read=%s written=%s",
		s.Submitted, s.Completed, s.Failed, s.InFlight, s.MaxInFlight,
		humanize.IBytes(s.BytesRead), humanize.IBytes(s.BytesWritten))
}
