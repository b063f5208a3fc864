package render

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisslanding/pierre/internal/anchor"
	"github.com/wisslanding/pierre/internal/dsp"
	"github.com/wisslanding/pierre/internal/fx"
	"github.com/wisslanding/pierre/internal/fx/unit"
	"github.com/wisslanding/pierre/internal/reel"
	"github.com/wisslanding/pierre/internal/stats"
)

type fakeSink struct {
	mu  sync.Mutex
	msg []fx.DataMsg
}

func (f *fakeSink) Enqueue(msg fx.DataMsg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msg = append(f.msg, msg)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msg)
}

func testSet() *unit.Set {
	opts := map[string]unit.Opts{
		unit.NameMainPinspot: {Name: unit.NameMainPinspot, Type: unit.TypePinspot, Address: 1},
		unit.NameFillPinspot: {Name: unit.NameFillPinspot, Type: unit.TypePinspot, Address: 7},
		unit.NameELEntry:     {Name: unit.NameELEntry, Type: unit.TypeDimmable, Address: 13},
		unit.NameELDance:     {Name: unit.NameELDance, Type: unit.TypeDimmable, Address: 14},
		unit.NameLEDForest:   {Name: unit.NameLEDForest, Type: unit.TypeDimmable, Address: 15},
		unit.NameDiscoBall:   {Name: unit.NameDiscoBall, Type: unit.TypeSwitch, Address: 16},
		unit.NameACPower:     {Name: unit.NameACPower, Type: unit.TypeSwitch, Address: 17},
	}
	return unit.NewSet(opts)
}

func newTestScheduler(t *testing.T) (*Scheduler, *reel.Rack, *fakeSink) {
	t.Helper()

	rack := reel.NewRack(reel.Config{WipMax: 3, WipTimeout: 50 * time.Millisecond})
	anchorMgr := anchor.NewManager()
	clockPeer := anchor.NewClockPeer()
	extractor := dsp.NewExtractor(dsp.DefaultConfig())
	fxCtrl := fx.NewController(fx.DefaultConfig(), testSet())
	sink := &fakeSink{}
	reg := stats.New()

	now := time.Now()
	clockPeer.Update(anchor.ClockInfo{ClockID: 1, SampleTime: now})
	anchorMgr.Update(anchor.Data{ClockID: 1, AnchorRTPTime: 0, AnchorNetTime: now}, clockPeer.Snapshot(), now)

	return New(rack, anchorMgr, clockPeer, extractor, fxCtrl, sink, reg), rack, sink
}

func TestSchedulerRendersReadyFramesInOrder(t *testing.T) {
	sched, rack, sink := newTestScheduler(t)

	now := time.Now()
	frames := make([]*reel.Frame, 0, 3)
	for i, rtp := range []uint32{0, 352, 704} {
		f := reel.NewAudioFrame(rtp, uint16(i), now)
		f.State = reel.Ready
		f.Deadline = now.Add(-time.Millisecond) // already due
		f.PCM = make([]byte, 352*2*2)
		require.NoError(t, rack.Insert(f, now))
		frames = append(frames, f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	<-done

	assert.GreaterOrEqual(t, sink.count(), 3)
	for _, f := range frames {
		assert.Equal(t, reel.Rendered, f.State, "rtp %d", f.RTPTime)
	}
}

func TestSchedulerRacksAgedWIPOnItsOwn(t *testing.T) {
	sched, rack, _ := newTestScheduler(t)

	now := time.Now()
	f := reel.NewAudioFrame(0, 0, now.Add(-100*time.Millisecond))
	f.State = reel.Ready
	f.Deadline = now.Add(-time.Millisecond)
	f.PCM = make([]byte, 352*2*2)
	require.NoError(t, rack.Insert(f, now.Add(-100*time.Millisecond)))

	require.Equal(t, 0, rack.ReelCount(), "a single frame stays in WIP until aged out")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()
	<-done

	assert.Equal(t, reel.Rendered, f.State)
}

func TestSchedulerEmitsSilenceWhenClockStale(t *testing.T) {
	rack := reel.NewRack(reel.DefaultConfig())
	anchorMgr := anchor.NewManager()
	clockPeer := anchor.NewClockPeer()
	extractor := dsp.NewExtractor(dsp.DefaultConfig())
	fxCtrl := fx.NewController(fx.DefaultConfig(), testSet())
	sink := &fakeSink{}
	reg := stats.New()

	sched := New(rack, anchorMgr, clockPeer, extractor, fxCtrl, sink, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	deadline, rendered := sched.tick(ctx)
	assert.False(t, rendered)
	assert.WithinDuration(t, time.Now(), deadline, 50*time.Millisecond)
}

func TestSchedulerStopEmitsAllStop(t *testing.T) {
	sched, _, sink := newTestScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()
	<-done

	require.Equal(t, 1, sink.count())
}
