// Package alac adapts an external ALAC decoder library to Pierre's
// frame pipeline. Decoder is an interface so the real cgo/library
// binding can be swapped in without touching the audio receiver.
package alac

import "github.com/wisslanding/pierre/internal/perr"

// FrameSamples is the fixed per-packet sample count.
const FrameSamples = 352

// Channels and BytesPerSample fix the output PCM format: interleaved
// S16LE, 2 channels.
const (
	Channels       = 2
	BytesPerSample = 2
)

// FrameBytes is the exact output buffer size for one decoded packet:
// 352 * 2 * 2 = 1408 bytes.
const FrameBytes = FrameSamples * Channels * BytesPerSample

// FMTP captures the twelve fmtp integers negotiated at SETUP, fed
// verbatim to the decoder on every packet.
type FMTP [12]int

// Decoder is the external ALAC decoder oracle. A production build wires
// this to the real library (typically a cgo binding); tests use a fake.
type Decoder interface {
	// Decode turns one deciphered ALAC payload into exactly FrameBytes
	// of interleaved S16LE PCM, or returns an error.
	Decode(payload []byte, fmtp FMTP) ([]byte, error)
}

// Adapter wraps a Decoder with the fixed-size-output contract the frame
// pipeline depends on: every decode yields exactly FrameBytes.
type Adapter struct {
	dec Decoder
}

// New returns an Adapter over dec.
func New(dec Decoder) *Adapter {
	return &Adapter{dec: dec}
}

// DecodeOne decodes a single packet, enforcing the exact PCM frame size.
// A malformed or undersized result is normalized to ErrDecodeFailure:
// the caller should mark the owning Frame DecodeFailure and discard it.
func (a *Adapter) DecodeOne(payload []byte, fmtp FMTP) ([]byte, error) {
	pcm, err := a.dec.Decode(payload, fmtp)
	if err != nil {
		return nil, perr.ErrDecodeFailure
	}
	if len(pcm) != FrameBytes {
		return nil, perr.ErrDecodeFailure
	}
	return pcm, nil
}
