// Package dsp is Pierre's frequency-domain analysis stage: window, FFT,
// magnitude spectrum, peak pick per channel.
package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	sampleRate     = 44100
	frameSamples   = 352
	channelCount   = 2
	bytesPerSample = 2
)

// fftSize is the next power of two >= frameSamples.
const fftSize = 512

// Peak is one magnitude/frequency pair surviving the floor/ceiling
// filter.
type Peak struct {
	Magnitude float64
	Frequency float64
}

// ChannelPeaks is an insertion-ordered, magnitude-keyed list: later
// insertions of an already-seen magnitude are dropped, so iteration
// order is the order peaks were picked, not sorted by magnitude or
// frequency.
type ChannelPeaks []Peak

// Peaks holds the per-channel peak lists for one decoded Frame.
type Peaks struct {
	Channels [channelCount]ChannelPeaks
}

// Config is the magnitude filter window
// (frame.peaks.magnitudes.{floor,ceiling}).
type Config struct {
	Floor   float64
	Ceiling float64
}

// DefaultConfig is the filter window used when no config overrides it.
func DefaultConfig() Config {
	return Config{Floor: 2.1, Ceiling: 32.0}
}

// Extractor runs the FFT + peak-pick pipeline for one PCM frame.
type Extractor struct {
	cfg    Config
	fft    *fourier.FFT
	window [fftSize]float64
}

// NewExtractor precomputes the Hann window and FFT plan so per-frame
// work is just multiply-and-transform; frames arrive every ~8ms at
// 44.1kHz/352 samples.
func NewExtractor(cfg Config) *Extractor {
	e := &Extractor{cfg: cfg, fft: fourier.NewFFT(fftSize)}
	for i := range e.window {
		e.window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(fftSize-1))
	}
	return e
}

// Extract decodes interleaved S16LE PCM (352 samples, 2 channels) into a
// Peaks descriptor. pcm must be exactly frameSamples*channelCount*2
// bytes (alac.FrameBytes); a shorter buffer is zero-padded into the FFT
// window, matching how a final partial frame would behave.
func (e *Extractor) Extract(pcm []byte) Peaks {
	var out Peaks

	for ch := 0; ch < channelCount; ch++ {
		samples := e.deinterleave(pcm, ch)
		spectrum := e.fft.Coefficients(nil, samples)

		var peaks ChannelPeaks
		seen := make(map[float64]bool)

		// Only the first half of the spectrum is meaningful for
		// real input (Nyquist symmetry).
		for bin := 1; bin < fftSize/2; bin++ {
			mag := cmplxAbs(spectrum[bin]) * 2 / fftSize
			if mag < e.cfg.Floor || mag > e.cfg.Ceiling {
				continue
			}
			if !isLocalMax(spectrum, bin) {
				continue
			}
			if seen[mag] {
				continue // first insertion of a magnitude wins
			}
			seen[mag] = true

			freq := float64(bin) * sampleRate / fftSize
			peaks = append(peaks, Peak{Magnitude: mag, Frequency: freq})
		}

		out.Channels[ch] = peaks
	}

	return out
}

func (e *Extractor) deinterleave(pcm []byte, channel int) []float64 {
	samples := make([]float64, fftSize)

	n := len(pcm) / (bytesPerSample * channelCount)
	for i := 0; i < n && i < frameSamples; i++ {
		off := i*channelCount*bytesPerSample + channel*bytesPerSample
		if off+1 >= len(pcm) {
			break
		}
		raw := int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8)
		samples[i] = (float64(raw) / 32768.0) * e.window[i]
	}

	return samples
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func isLocalMax(spectrum []complex128, bin int) bool {
	if bin == 0 || bin >= len(spectrum)-1 {
		return false
	}
	mag := cmplxAbs(spectrum[bin])
	return mag >= cmplxAbs(spectrum[bin-1]) && mag >= cmplxAbs(spectrum[bin+1])
}
