package session

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wisslanding/pierre/internal/alac"
	"github.com/wisslanding/pierre/internal/anchor"
	"github.com/wisslanding/pierre/internal/audio"
	"github.com/wisslanding/pierre/internal/control"
	"github.com/wisslanding/pierre/internal/dsp"
	"github.com/wisslanding/pierre/internal/fx"
	"github.com/wisslanding/pierre/internal/fx/unit"
	"github.com/wisslanding/pierre/internal/reel"
	"github.com/wisslanding/pierre/internal/render"
	"github.com/wisslanding/pierre/internal/rtsp"
	"github.com/wisslanding/pierre/internal/stats"
	"github.com/wisslanding/pierre/internal/status"
)

// Conn is one RTSP connection's collaborators, built up incrementally
// as the handshake progresses: nothing below the RTSP Session itself
// exists until SETUP completes, since none of it can be configured
// before the stream's fmtp and allocated ports are known.
type Conn struct {
	id  uint64
	mgr *Manager

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	session *rtsp.Session

	audioLn     net.Listener
	audioConnCh chan net.Conn

	controlRecv *control.Receiver
	receiver    *audio.Receiver

	rack      *reel.Rack
	anchorMgr *anchor.Manager
	extractor *dsp.Extractor
	fxCtrl    *fx.Controller
	scheduler *render.Scheduler

	teardownOnce sync.Once
}

func newConn(id uint64, mgr *Manager) *Conn {
	base, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(base)
	return &Conn{
		id:          id,
		mgr:         mgr,
		ctx:         egCtx,
		cancel:      cancel,
		eg:          eg,
		audioConnCh: make(chan net.Conn, 1),
	}
}

// AllocateAudioPort implements rtsp.PortAllocator: opens the audio-data
// TCP socket and accepts exactly one connection from the sender in the
// background, handed off to the Receiver once SETUP completes and fmtp
// is known.
func (c *Conn) AllocateAudioPort() (int, error) {
	ln, port, err := audio.Listen(0)
	if err != nil {
		return 0, err
	}
	c.audioLn = ln

	c.eg.Go(func() error {
		conn, err := ln.Accept()
		if err != nil {
			return nil // listener closed at teardown; not a group failure
		}
		select {
		case c.audioConnCh <- conn:
		case <-c.ctx.Done():
			conn.Close()
		}
		return nil
	})

	return port, nil
}

// AllocateControlPort implements rtsp.PortAllocator: opens the UDP
// control socket and starts its receive loop immediately, since
// retransmit requests can be sent and timing pings received before
// RECORD.
func (c *Conn) AllocateControlPort() (int, error) {
	recv, port, err := control.Listen(0, c.onRetransmitResponse, c.onTimingResponse)
	if err != nil {
		return 0, err
	}
	c.controlRecv = recv

	c.eg.Go(func() error {
		recv.Run() //nolint:errcheck // Close() at teardown is the expected exit path
		return nil
	})

	return port, nil
}

// onSetupComplete builds every per-session collaborator that depends on
// the negotiated fmtp and allocated ports.
func (c *Conn) onSetupComplete(audioPort, controlPort int, fmtp alac.FMTP, group rtsp.GroupInfo) {
	cfg := c.mgr.cfg

	c.rack = reel.NewRack(reel.DefaultConfig())
	c.anchorMgr = anchor.NewManager()
	c.extractor = dsp.NewExtractor(dsp.Config{
		Floor:   cfg.Frame.Peaks.Floor,
		Ceiling: cfg.Frame.Peaks.Ceiling,
	})

	set := unit.NewSet(c.mgr.fixtureOpts)
	silence := time.Duration(cfg.FX.MajorPeak.SilenceTimeout) * time.Second
	fxCfg := fx.Config{
		Magnitudes: dsp.Config{
			Floor:   cfg.FX.MajorPeak.Magnitudes.Floor,
			Ceiling: cfg.FX.MajorPeak.Magnitudes.Ceiling,
		},
		SilenceTimeout:  silence,
		SilenceTimeout2: 2 * silence,
	}
	c.fxCtrl = fx.NewController(fxCfg, set)

	c.scheduler = render.New(c.rack, c.anchorMgr, c.mgr.clock, c.extractor, c.fxCtrl, c.mgr.dmxLink, c.mgr.stats)

	decoder := alac.New(alac.SilentDecoder{})
	c.receiver = audio.New(c.session, decoder, fmtp, c.rack, c.mgr.stats, c.onGap)

	c.eg.Go(func() error {
		select {
		case conn := <-c.audioConnCh:
			c.receiver.Serve(conn)
		case <-c.ctx.Done():
		}
		return nil
	})

	c.mgr.status.Set(status.Ready())

	log.Debug("setup complete", "session", c.id,
		"audio_port", audioPort, "control_port", controlPort, "group_uuid", group.GroupUUID)
}

// onRecord starts the render loop, run for the rest of the session's
// life until TEARDOWN cancels its context.
func (c *Conn) onRecord() {
	c.mgr.status.Set(status.Playing())
	c.mgr.render.Set(true)

	c.eg.Go(func() error {
		c.scheduler.Run(c.ctx)
		return nil
	})
}

// onFlush applies a FLUSH/FLUSHBUFFERED request to the rack.
func (c *Conn) onFlush(info reel.FlushInfo) {
	if c.rack != nil {
		c.rack.Flush(info)
	}
}

// onAnchor publishes fresh anchor timing against the current clock
// snapshot and logs the frame_adj diagnostic.
func (c *Conn) onAnchor(data anchor.Data) {
	if c.anchorMgr == nil {
		return
	}
	clock := c.mgr.clock.Snapshot()
	frameAdj := c.anchorMgr.Update(data, clock, time.Now())
	log.Debug("anchor updated", "session", c.id, "frame_adj", frameAdj)
}

// onGap is the audio receiver's OnGap callback: a sequence gap of at
// least audio.RetransmitThreshold triggers a retransmit request over
// the control socket.
func (c *Conn) onGap(seqStart, count uint16) {
	if c.controlRecv == nil {
		return
	}
	if err := c.controlRecv.RequestRetransmit(control.RetransmitRequest{SeqStart: seqStart, Count: count}); err != nil {
		log.Warn("retransmit request failed", "session", c.id, "err", err)
	}
}

// onRetransmitResponse feeds a retransmit-response payload back through
// the audio receiver's normal pipeline.
func (c *Conn) onRetransmitResponse(payload []byte, arrival time.Time) error {
	if c.receiver != nil {
		c.receiver.HandlePacket(payload, arrival)
	}
	return nil
}

// onTimingResponse records the control-channel round trip.
func (c *Conn) onTimingResponse(sent, received time.Time) {
	c.mgr.stats.Observe(stats.RemoteRoundtrip, received.Sub(sent).Seconds())
}

// onTeardown is the RTSP session's TEARDOWN hook.
func (c *Conn) onTeardown() {
	c.teardown()
}

// teardown cancels every collaborator goroutine and blocks until they
// have all observed cancellation and exited, so the render loop's final
// AllStop is guaranteed to have been enqueued before teardown returns.
// Safe to call more than once or before SETUP ever completed.
func (c *Conn) teardown() {
	c.teardownOnce.Do(func() {
		if c.audioLn != nil {
			c.audioLn.Close()
		}
		if c.controlRecv != nil {
			c.controlRecv.Close()
		}
		c.cancel()
		c.eg.Wait() //nolint:errcheck // goroutines above never return a real error

		c.mgr.status.Set(0)
		c.mgr.render.Set(false)

		log.Debug("session torn down", "session", c.id)
	})
}
