package reel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wisslanding/pierre/internal/perr"
)

func TestRackRacksOnWipMax(t *testing.T) {
	r := NewRack(Config{WipMax: 3, WipTimeout: time.Hour})
	now := time.Now()

	for seq := uint16(0); seq < 3; seq++ {
		require.NoError(t, r.Insert(NewAudioFrame(uint32(seq)*352, seq, now), now))
	}

	assert.Equal(t, 1, r.ReelCount())
}

func TestRackTickRacksOnTimeout(t *testing.T) {
	r := NewRack(Config{WipMax: 1000, WipTimeout: time.Millisecond})
	now := time.Now()

	require.NoError(t, r.Insert(NewAudioFrame(0, 0, now), now))

	err := r.Tick(now.Add(10 * time.Millisecond))
	require.ErrorIs(t, err, perr.ErrRackWipTimeout)
	assert.Equal(t, 1, r.ReelCount())
}

func TestFlushDropsWholeReelsAtOrBelowCutoff(t *testing.T) {
	r := NewRack(Config{WipMax: 5, WipTimeout: time.Hour})
	now := time.Now()

	for seq := uint16(0); seq < 5; seq++ {
		require.NoError(t, r.Insert(NewAudioFrame(100000+uint32(seq)*352, seq, now), now))
	}
	for seq := uint16(5); seq < 10; seq++ {
		require.NoError(t, r.Insert(NewAudioFrame(100000+uint32(seq)*352, seq, now), now))
	}

	require.Equal(t, 2, r.ReelCount())

	r.Flush(FlushInfo{UntilSeq: 8, UntilRTP: 100000 + 4*352})

	assert.Equal(t, 1, r.ReelCount(), "the reel ending at the cutoff should be dropped whole")
	for _, id := range r.SortedReelIDs() {
		for _, f := range r.reels[id].Frames() {
			assert.False(t, SeqLess(f.Seq, 8), "frame seq %d should have been flushed", f.Seq)
		}
	}
}

func TestPopOrderStrictlyIncreasesForAnyInsertionOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Uint32().Draw(t, "base_rtp")
		count := rapid.IntRange(1, 60).Draw(t, "count")

		offsets := rapid.Permutation(seqOffsets(count)).Draw(t, "arrival_order")

		r := NewRack(Config{WipMax: 8, WipTimeout: time.Hour})
		now := time.Now()
		for _, off := range offsets {
			f := NewAudioFrame(base+uint32(off)*352, uint16(off), now)
			f.State = Ready
			if err := r.Insert(f, now); err != nil {
				t.Fatalf("insert: %v", err)
			}
			now = now.Add(time.Millisecond)
		}
		r.Tick(now.Add(2 * time.Hour)) // rack whatever is still WIP

		var prev uint32
		first := true
		for {
			f := r.PopReady()
			if f == nil {
				break
			}
			if !first && !RTPLess(prev, f.RTPTime) {
				t.Fatalf("pop order not strictly increasing: %d then %d", prev, f.RTPTime)
			}
			prev = f.RTPTime
			first = false
		}
	})
}

func seqOffsets(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestPopReadyReturnsOldestFirst(t *testing.T) {
	r := NewRack(Config{WipMax: 2, WipTimeout: time.Hour})
	now := time.Now()

	for seq := uint16(0); seq < 4; seq++ {
		f := NewAudioFrame(uint32(seq)*352, seq, now)
		f.State = Ready
		require.NoError(t, r.Insert(f, now))
	}

	require.Equal(t, 2, r.ReelCount())

	var order []uint32
	for {
		f := r.PopReady()
		if f == nil {
			break
		}
		order = append(order, f.RTPTime)
	}

	for i := 1; i < len(order); i++ {
		assert.True(t, RTPLess(order[i-1], order[i]))
	}
	assert.Len(t, order, 4)
}
