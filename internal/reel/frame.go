// Package reel implements Pierre's two-level decoded-audio buffer: a
// Reel is an ordered chunk of Frames, a Rack is the ordered set of
// reels.
package reel

import (
	"time"

	"github.com/wisslanding/pierre/internal/dsp"
)

// State is a Frame's position in its lifecycle:
// Empty -> HeaderParsed -> Deciphered -> Decoded -> Ready ->
// {Rendered, Outdated, Flushed, Invalid}.
type State int

const (
	Empty State = iota
	HeaderParsed
	Deciphered
	Decoded
	Ready
	Rendered
	Outdated
	Flushed
	Invalid
	DecipherFailure
	DecodeFailure
)

func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case HeaderParsed:
		return "HeaderParsed"
	case Deciphered:
		return "Deciphered"
	case Decoded:
		return "Decoded"
	case Ready:
		return "Ready"
	case Rendered:
		return "Rendered"
	case Outdated:
		return "Outdated"
	case Flushed:
		return "Flushed"
	case Invalid:
		return "Invalid"
	case DecipherFailure:
		return "DecipherFailure"
	case DecodeFailure:
		return "DecodeFailure"
	default:
		return "Unknown"
	}
}

// Terminal reports whether a state has no further transitions.
func (s State) Terminal() bool {
	switch s {
	case Rendered, Outdated, Flushed, Invalid, DecipherFailure, DecodeFailure:
		return true
	default:
		return false
	}
}

// Frame is one decoded (or in-progress) audio frame, keyed by RTP
// timestamp. Exclusively held by its Reel until moved into the
// scheduler's in-flight slot.
type Frame struct {
	RTPTime  uint32 // wraps
	Seq      uint16 // wraps
	PCM      []byte // interleaved S16LE, filled at Decoded
	State    State
	Arrival  time.Time // monotonic
	Deadline time.Time // filled once Anchor is known
	Peaks    *dsp.Peaks
	Silent   bool
}

// NewAudioFrame constructs a Frame for a received audio-data packet,
// starting in the HeaderParsed state.
func NewAudioFrame(rtpTime uint32, seq uint16, arrival time.Time) *Frame {
	return &Frame{
		RTPTime: rtpTime,
		Seq:     seq,
		State:   HeaderParsed,
		Arrival: arrival,
	}
}

// NewSilentFrame synthesizes a frame of digital silence, used when the
// clock is stale or no anchor is known.
func NewSilentFrame(rtpTime uint32, arrival time.Time) *Frame {
	return &Frame{
		RTPTime: rtpTime,
		State:   Decoded,
		Arrival: arrival,
		Silent:  true,
		PCM:     make([]byte, 352*2*2),
	}
}

// SeqLess is modular (wrap-respecting) sequence-number comparison:
// a is considered less than b if stepping forward from a by between 1
// and 2^15 steps reaches b.
func SeqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

// RTPLess is modular RTP-timestamp comparison, the u32 analogue of
// SeqLess, used for both Reel ordering and anchor math.
func RTPLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// TooOld reports whether a frame has sat longer than max since arrival.
func (f *Frame) TooOld(now time.Time, max time.Duration) bool {
	return now.Sub(f.Arrival) > max
}
