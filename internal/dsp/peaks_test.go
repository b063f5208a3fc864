package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sineFramePCM(freq float64) []byte {
	pcm := make([]byte, frameSamples*channelCount*bytesPerSample)
	for i := 0; i < frameSamples; i++ {
		v := int16(10000 * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
		off := i * channelCount * bytesPerSample
		pcm[off] = byte(v)
		pcm[off+1] = byte(v >> 8)
		pcm[off+2] = byte(v)
		pcm[off+3] = byte(v >> 8)
	}
	return pcm
}

func TestExtractFiltersOutOfRangeMagnitudes(t *testing.T) {
	e := NewExtractor(Config{Floor: 1e9, Ceiling: 1e10}) // nothing in this band
	peaks := e.Extract(sineFramePCM(1000))

	for ch, list := range peaks.Channels {
		for _, p := range list {
			assert.Failf(t, "unexpected peak", "channel %d had peak %+v outside [1e9,1e10]", ch, p)
		}
	}
}

func TestExtractKeepsInRangeMagnitudes(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	peaks := e.Extract(sineFramePCM(1000))

	for _, list := range peaks.Channels {
		for _, p := range list {
			assert.GreaterOrEqual(t, p.Magnitude, e.cfg.Floor)
			assert.LessOrEqual(t, p.Magnitude, e.cfg.Ceiling)
		}
	}
}

func TestExtractBothChannelsProduced(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	peaks := e.Extract(sineFramePCM(1000))
	assert.Len(t, peaks.Channels, 2)
}
