package reel

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertOrdersByRTPTime(t *testing.T) {
	r := NewReel(Audio)
	now := time.Now()

	order := []uint32{100352, 100000, 100704, 100352 + 352*2}
	seen := map[uint32]bool{}
	for _, rtp := range order {
		if seen[rtp] {
			continue
		}
		seen[rtp] = true
		require.True(t, r.Insert(NewAudioFrame(rtp, 0, now)))
	}

	frames := r.Frames()
	for i := 1; i < len(frames); i++ {
		assert.True(t, RTPLess(frames[i-1].RTPTime, frames[i].RTPTime))
	}
}

func TestInsertArbitraryOrderYieldsSortedIteration(t *testing.T) {
	const n = 50
	rtps := make([]uint32, n)
	for i := range rtps {
		rtps[i] = uint32(i) * 352
	}

	shuffled := append([]uint32(nil), rtps...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	r := NewReel(Audio)
	now := time.Now()
	for _, rtp := range shuffled {
		require.True(t, r.Insert(NewAudioFrame(rtp, 0, now)))
	}

	frames := r.Frames()
	require.Len(t, frames, n)
	for i, f := range frames {
		assert.Equal(t, rtps[i], f.RTPTime)
	}
}

func TestInsertDuplicateRTPTimeCollides(t *testing.T) {
	r := NewReel(Audio)
	now := time.Now()

	require.True(t, r.Insert(NewAudioFrame(100000, 0, now)))
	assert.False(t, r.Insert(NewAudioFrame(100000, 1, now)))
}

func TestEvictBeforeSeqMarksFlushed(t *testing.T) {
	r := NewReel(Audio)
	now := time.Now()

	inserted := make([]*Frame, 0, 10)
	for seq := uint16(0); seq < 10; seq++ {
		f := NewAudioFrame(uint32(seq)*352, seq, now)
		inserted = append(inserted, f)
		require.True(t, r.Insert(f))
	}

	r.EvictBeforeSeq(5)

	for _, f := range inserted {
		if SeqLess(f.Seq, 5) {
			assert.Equal(t, Flushed, f.State, "seq %d", f.Seq)
		}
	}
	for _, f := range r.Frames() {
		assert.False(t, SeqLess(f.Seq, 5))
	}
}

func TestSeqLessWraps(t *testing.T) {
	assert.True(t, SeqLess(65534, 2))
	assert.False(t, SeqLess(2, 65534))
}

func TestRTPLessWraps(t *testing.T) {
	var a uint32 = 0xFFFFFFF0
	var b uint32 = 0x10
	assert.True(t, RTPLess(a, b))
}
