// Package render implements Pierre's render loop: a single cooperative
// loop, driven by a monotonic timer, that picks the next frame,
// sync-waits to its deadline, runs DSP, runs FX, and hands a DataMsg to
// the remote DMX link.
package render

import (
	"context"
	"errors"
	"time"

	"github.com/wisslanding/pierre/internal/anchor"
	"github.com/wisslanding/pierre/internal/dsp"
	"github.com/wisslanding/pierre/internal/fx"
	"github.com/wisslanding/pierre/internal/perr"
	"github.com/wisslanding/pierre/internal/plog"
	"github.com/wisslanding/pierre/internal/reel"
	"github.com/wisslanding/pierre/internal/stats"
)

var log = plog.With("render")

const (
	sampleRate   = 44100
	frameSamples = 352
)

// frameDuration is the wall-clock span one frame covers: 352 samples at
// 44.1kHz, ~7.98ms.
const frameDuration = frameSamples * time.Second / sampleRate

// RenderSlack is how far ahead of a frame's deadline the loop wakes up
// to leave headroom for DSP+FX+send.
const RenderSlack = 2 * time.Millisecond

// DMXSink is the minimal surface the scheduler needs from the remote
// DMX link; satisfied by *dmx.Link.
type DMXSink interface {
	Enqueue(msg fx.DataMsg)
}

// Scheduler owns one session's render loop. It is constructed fresh per
// RTSP session and Run in its own goroutine from RECORD until TEARDOWN
// cancels its context.
type Scheduler struct {
	rack      *reel.Rack
	anchorMgr *anchor.Manager
	clock     *anchor.ClockPeer
	dsp       *dsp.Extractor
	fxCtrl    *fx.Controller
	dmx       DMXSink
	stats     *stats.Registry
	window    anchor.Window

	silentSeq uint32
}

// New constructs a Scheduler from its component collaborators.
func New(rack *reel.Rack, anchorMgr *anchor.Manager, clock *anchor.ClockPeer, extractor *dsp.Extractor, fxCtrl *fx.Controller, dmx DMXSink, reg *stats.Registry) *Scheduler {
	return &Scheduler{
		rack:      rack,
		anchorMgr: anchorMgr,
		clock:     clock,
		dsp:       extractor,
		fxCtrl:    fxCtrl,
		dmx:       dmx,
		stats:     reg,
		window:    anchor.DefaultWindow(),
	}
}

// Run drives the render loop until ctx is canceled. Cancellation means
// "emit AllStop, then exit": the final DataMsg zeroes every fixture.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.dmx.Enqueue(s.fxCtrl.Stop(time.Now()))
			return
		default:
		}

		deadline, rendered := s.tick(ctx)
		if ctx.Err() != nil {
			s.dmx.Enqueue(s.fxCtrl.Stop(time.Now()))
			return
		}

		next := deadline.Add(frameDuration)
		if !rendered {
			next = time.Now().Add(frameDuration)
		}

		if !sleepUntil(ctx, next) {
			s.dmx.Enqueue(s.fxCtrl.Stop(time.Now()))
			return
		}
	}
}

// tick runs one loop iteration and reports the frame's deadline (for
// computing the next tick) and whether a real (non-silent) frame was
// rendered.
func (s *Scheduler) tick(ctx context.Context) (deadline time.Time, rendered bool) {
	now := time.Now()

	if err := s.rack.Tick(now); errors.Is(err, perr.ErrRackWipTimeout) {
		if plog.Every("render-wip-timeout", time.Second) {
			log.Debug("wip reel aged out, racked incomplete")
		}
	}

	clockInfo := s.clock.Snapshot()
	last := s.anchorMgr.Snapshot(now)

	fresh := clockInfo.Fresh(now, anchor.MaxAge) && last.Ready()

	var frame *reel.Frame
	if fresh {
		s.rack.PrepareReady(now, last, s.window)
		frame = s.rack.PopReady()
	}

	if frame == nil {
		frame = s.silentFrame(now)
	}

	waitUntil := frame.Deadline.Add(-RenderSlack)
	waitStart := time.Now()
	sleepUntil(ctx, waitUntil)
	s.stats.Observe(stats.SyncWait, time.Since(waitStart).Seconds())

	renderNow := time.Now()

	var peaks dsp.Peaks
	if !frame.Silent && len(frame.PCM) > 0 {
		peaks = s.dsp.Extract(frame.PCM)
		frame.Peaks = &peaks
	}

	msg := s.fxCtrl.Tick(renderNow, peaks, frame.Silent)
	s.dmx.Enqueue(msg)

	if !frame.Silent {
		frame.State = reel.Rendered
	}

	return frame.Deadline, !frame.Silent
}

// silentFrame synthesizes a Silent frame, deadlined to render
// immediately, for ticks where the clock is stale or no audio frame is
// ready.
func (s *Scheduler) silentFrame(now time.Time) *reel.Frame {
	s.silentSeq++
	f := reel.NewSilentFrame(s.silentSeq*frameSamples, now)
	f.Deadline = now
	return f
}

// sleepUntil blocks until t or ctx is canceled, returning false on
// cancellation.
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
