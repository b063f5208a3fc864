package reel

import (
	"sort"
	"sync"
	"time"

	"github.com/wisslanding/pierre/internal/perr"
)

// FlushInfo is the sequence/RTP cutoff carried by an RTSP FLUSH or
// FLUSHBUFFERED request.
type FlushInfo struct {
	UntilSeq uint16
	UntilRTP uint32
}

// Rack is a mapping from an integer reel id to Reel, plus a
// work-in-progress slot. At most one WIP reel exists at a time; a reel
// is racked (made visible to the scheduler) only once complete.
//
// The audio receiver inserts, the RTSP session flushes, and the render
// loop pops; the mutex serializes those three callers. No exported
// method blocks while holding it.
type Rack struct {
	mu sync.Mutex

	reels  map[int]*Reel
	order  []int // racked reel ids, ascending (== RTP order, since ids are sequential)
	nextID int

	wip        *Reel
	wipStarted time.Time

	wipMax     int
	wipTimeout time.Duration

	lastPopped uint32
	havePopped bool
}

// Config bounds the WIP policy.
type Config struct {
	WipMax     int
	WipTimeout time.Duration
}

// DefaultConfig caps a WIP reel at 40 frames (~320ms of audio at one
// packet per 8ms) or 250ms of age, whichever comes first.
func DefaultConfig() Config {
	return Config{WipMax: 40, WipTimeout: 250 * time.Millisecond}
}

// NewRack constructs an empty Rack with a fresh WIP reel.
func NewRack(cfg Config) *Rack {
	return &Rack{
		reels:      make(map[int]*Reel),
		wipMax:     cfg.WipMax,
		wipTimeout: cfg.WipTimeout,
	}
}

func (r *Rack) ensureWIP(now time.Time) {
	if r.wip == nil {
		r.wip = NewReel(Audio)
		r.wipStarted = now
	}
}

// Insert adds f to the current WIP reel in arrival order. Returns
// perr.ErrRackCollision if a frame with the same RTPTime is already
// present. Racking is triggered automatically once the WIP reel reaches
// wipMax frames or has aged past wipTimeout.
func (r *Rack) Insert(f *Frame, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureWIP(now)

	if !r.wip.Insert(f) {
		return perr.ErrRackCollision
	}

	r.maybeRack(now)

	return nil
}

// Tick re-evaluates the WIP reel's age even when no new frame has
// arrived, so a stalled stream still racks (and exposes) what it has.
// Returns perr.ErrRackWipTimeout when the WIP reel is non-empty and has
// aged past wipTimeout without reaching wipMax (a stall, not a normal
// completion) — the reel is racked regardless so no data is lost.
func (r *Rack) Tick(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureWIP(now)

	if r.wip.Len() == 0 {
		return nil
	}

	if r.wip.Len() >= r.wipMax {
		r.maybeRack(now)
		return nil
	}

	if now.Sub(r.wipStarted) > r.wipTimeout {
		r.rackWIP(now)
		return perr.ErrRackWipTimeout
	}

	return nil
}

func (r *Rack) maybeRack(now time.Time) {
	if r.wip.Len() >= r.wipMax || now.Sub(r.wipStarted) > r.wipTimeout {
		r.rackWIP(now)
	}
}

// rackWIP moves the current WIP reel into the keyed map and starts a
// fresh one.
func (r *Rack) rackWIP(now time.Time) {
	id := r.nextID
	r.nextID++

	r.reels[id] = r.wip
	r.order = append(r.order, id)

	r.wip = NewReel(Audio)
	r.wipStarted = now
}

// Flush evicts every frame with seq < UntilSeq (modular) across the WIP
// and racked reels, and drops whole racked reels whose last RTP
// timestamp is <= UntilRTP.
func (r *Rack) Flush(info FlushInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.order[:0]
	for _, id := range r.order {
		reel := r.reels[id]

		if last := reel.Last(); last != nil && !RTPLess(info.UntilRTP, last.RTPTime) {
			delete(r.reels, id)
			continue
		}

		reel.EvictBeforeSeq(info.UntilSeq)
		kept = append(kept, id)
	}
	r.order = kept

	if r.wip != nil {
		r.wip.EvictBeforeSeq(info.UntilSeq)
	}
}

// PopReady returns the next Ready frame across all racked reels,
// removing it from the rack. Popped RTP timestamps strictly increase
// (modular) for the rack's lifetime: a Ready frame older than the last
// one popped — a late arrival that landed in a later reel — is marked
// Outdated and dropped rather than rendered out of order. Empty reels
// are pruned as they're drained.
func (r *Rack) PopReady() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := append([]int(nil), r.order...)
	for _, id := range ids {
		reel := r.reels[id]
		for {
			f := reel.PopReady()
			if f == nil {
				break
			}
			if r.havePopped && !RTPLess(r.lastPopped, f.RTPTime) {
				f.State = Outdated
				continue
			}
			if reel.Len() == 0 {
				delete(r.reels, id)
				r.pruneOrder(id)
			}
			r.lastPopped = f.RTPTime
			r.havePopped = true
			return f
		}
		if reel.Len() == 0 {
			delete(r.reels, id)
			r.pruneOrder(id)
		}
	}
	return nil
}

func (r *Rack) pruneOrder(id int) {
	kept := r.order[:0]
	for _, o := range r.order {
		if o != id {
			kept = append(kept, o)
		}
	}
	r.order = kept
}

// ReelCount reports the number of racked reels (for tests/diagnostics).
func (r *Rack) ReelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reels)
}

// SortedReelIDs returns racked reel ids in ascending order (tests only;
// r.order is already maintained in this order during normal operation).
func (r *Rack) SortedReelIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int, 0, len(r.reels))
	for id := range r.reels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
