// Package anchor holds Pierre's anchor and clock singletons and the
// RTP-time <-> local-monotonic-time mapping. Readers observe a
// consistent snapshot via copy-on-update: writers publish a new
// immutable value, readers copy it whole.
package anchor

import (
	"sync/atomic"
	"time"
)

// ClockInfo is a snapshot of the external PTP peer's state.
type ClockInfo struct {
	ClockID         uint64
	MastershipStart time.Time
	RawOffset       time.Duration
	SampleTime      time.Time
}

// MaxAge is the default clock freshness window.
const MaxAge = 100 * time.Millisecond

// Fresh reports whether the clock sample is still trusted at now,
// using max as the staleness window.
func (c ClockInfo) Fresh(now time.Time, max time.Duration) bool {
	if c.ClockID == 0 {
		return false
	}
	return now.Sub(c.SampleTime) < max
}

// ClockPeer publishes ClockInfo snapshots. A single producer (the
// external PTP peer library) calls Update; any number of readers call
// Snapshot without blocking the writer.
type ClockPeer struct {
	current atomic.Pointer[ClockInfo]
}

// NewClockPeer returns a ClockPeer with no clock known yet.
func NewClockPeer() *ClockPeer {
	p := &ClockPeer{}
	p.current.Store(&ClockInfo{})
	return p
}

// Update publishes a new ClockInfo snapshot.
func (p *ClockPeer) Update(info ClockInfo) {
	p.current.Store(&info)
}

// Snapshot returns the most recently published ClockInfo.
func (p *ClockPeer) Snapshot() ClockInfo {
	return *p.current.Load()
}
