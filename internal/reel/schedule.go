package reel

import (
	"time"

	"github.com/wisslanding/pierre/internal/anchor"
)

// PrepareReady computes deadlines for every Decoded frame in the reel
// using last and classifies each against window: in-window frames
// become Ready with their Deadline filled in; frames too far in the
// past become Outdated and are dropped immediately. Frames too far in
// the future are left Decoded to be reconsidered on a later tick. A
// frame never becomes Ready before an anchor is known.
func (r *Reel) PrepareReady(now time.Time, last anchor.Last, window anchor.Window) {
	kept := r.frames[:0]
	for _, f := range r.frames {
		if f.State != Decoded {
			kept = append(kept, f)
			continue
		}

		deadline := anchor.DeadlineFor(last, f.RTPTime)
		switch anchor.Classify(now, deadline, window) {
		case -1:
			f.State = Outdated
			continue
		case 1:
			kept = append(kept, f)
		default:
			f.Deadline = deadline
			f.State = Ready
			kept = append(kept, f)
		}
	}
	r.frames = kept
}

// PrepareReady applies Reel.PrepareReady across every racked reel. The
// WIP reel is left untouched: its frames become schedulable only when
// it racks (Insert reaching wipMax, or Tick aging it out).
func (r *Rack) PrepareReady(now time.Time, last anchor.Last, window anchor.Window) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		r.reels[id].PrepareReady(now, last, window)
	}
}
