package anchor

import (
	"sync/atomic"
	"time"
)

// Data is the sender-supplied anchor from an RTSP ANCHOR message: a
// mapping from an RTP timestamp to a wall-clock time on the sender's
// clock.
type Data struct {
	ClockID       uint64
	AnchorRTPTime uint32
	AnchorNetTime time.Time     // sender clock epoch
	ValidUntil    time.Duration // relative to AnchorNetTime
}

// Last is the derived, localized view of the most recent Data update.
// It is "ready" only once ClockID != 0.
type Last struct {
	RTPTime     uint32
	AnchorTime  time.Time // sender clock ns
	Localized   time.Time // monotonic ns; = anchor_time - clock.raw_offset
	MasterAt    time.Time
	ClockID     uint64
	SinceUpdate time.Duration
	updatedAt   time.Time
}

// Ready reports whether an anchor has ever been published.
func (l Last) Ready() bool {
	return l.ClockID != 0
}

const sampleRate = 44100

// DeadlineFor computes the local monotonic deadline for a frame with
// RTP timestamp t, given a ready Last:
//
//	deadline_local_ns = localized + (t - anchor_rtp_time) * 1e9 / sample_rate
//
// Subtraction is u32 modular, widened to i64 before scaling, so the
// result is correct across RTP-timestamp wraparound.
func DeadlineFor(last Last, rtpTime uint32) time.Time {
	delta := int64(int32(rtpTime - last.RTPTime))
	offsetNanos := delta * int64(time.Second) / sampleRate
	return last.Localized.Add(time.Duration(offsetNanos))
}

// Window bounds how far from "now" a computed deadline may fall before
// the frame is considered Outdated or Future.
type Window struct {
	OutdatedSlack time.Duration
	FutureSlack   time.Duration
}

// DefaultWindow is a conservative default; callers should derive real
// values from config.
func DefaultWindow() Window {
	return Window{OutdatedSlack: 50 * time.Millisecond, FutureSlack: 2 * time.Second}
}

// Classify reports whether deadline falls within w of now: 0 = in
// window, -1 = Outdated (too far in the past), +1 = Future (too far
// ahead).
func Classify(now, deadline time.Time, w Window) int {
	diff := deadline.Sub(now)
	if diff < -w.OutdatedSlack {
		return -1
	}
	if diff > w.FutureSlack {
		return 1
	}
	return 0
}

// Manager publishes Last snapshots, the same copy-on-update discipline
// as ClockPeer.
type Manager struct {
	current atomic.Pointer[Last]
}

// NewManager returns a Manager with no anchor known yet.
func NewManager() *Manager {
	m := &Manager{}
	m.current.Store(&Last{})
	return m
}

// Update derives and publishes a new Last from fresh anchor Data and
// the current ClockInfo. It also computes frame_adj — how far the new
// anchor's RTP position drifted from what the elapsed sender-clock time
// predicts — returned for the caller to log.
func (m *Manager) Update(data Data, clock ClockInfo, now time.Time) (frameAdj int64) {
	prev := *m.current.Load()

	localized := data.AnchorNetTime.Add(-clock.RawOffset)

	next := Last{
		RTPTime:     data.AnchorRTPTime,
		AnchorTime:  data.AnchorNetTime,
		Localized:   localized,
		MasterAt:    clock.MastershipStart,
		ClockID:     data.ClockID,
		SinceUpdate: 0,
		updatedAt:   now,
	}
	m.current.Store(&next)

	if prev.Ready() {
		deltaRTP := int64(int32(data.AnchorRTPTime - prev.RTPTime))
		deltaAnchorNanos := data.AnchorNetTime.Sub(prev.AnchorTime).Nanoseconds()
		expectedRTP := deltaAnchorNanos * sampleRate / int64(time.Second)
		frameAdj = deltaRTP - expectedRTP
	}

	return frameAdj
}

// Snapshot returns the most recently published Last, with SinceUpdate
// computed relative to now.
func (m *Manager) Snapshot(now time.Time) Last {
	l := *m.current.Load()
	if l.Ready() {
		l.SinceUpdate = now.Sub(l.updatedAt)
	}
	return l
}
