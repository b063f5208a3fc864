// Package session glues one RTSP connection's lifecycle to the rest of
// Pierre's per-session collaborators: the audio-data receiver, the
// control receiver, the render scheduler, and the process-wide DMX link
// and clock peer. Live connections are kept in a Manager map keyed by
// id, used for removal and Shutdown. The RTSP session's hooks are bound
// methods of its Conn, which holds direct pointers to the session and
// the Manager; callbacks do not look the session up by id.
package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/wisslanding/pierre/internal/anchor"
	"github.com/wisslanding/pierre/internal/config"
	"github.com/wisslanding/pierre/internal/dmx"
	"github.com/wisslanding/pierre/internal/fairplay"
	"github.com/wisslanding/pierre/internal/fx/unit"
	"github.com/wisslanding/pierre/internal/plog"
	"github.com/wisslanding/pierre/internal/rtsp"
	"github.com/wisslanding/pierre/internal/stats"
	"github.com/wisslanding/pierre/internal/status"
)

var log = plog.With("session")

// Manager accepts RTSP connections and wires each to a fresh Conn. It
// is constructed once in main and owns every per-session collaborator
// that is itself process-wide (clock peer, DMX link, fixture catalogue,
// metrics registry).
type Manager struct {
	cfg           *config.Config
	stats         *stats.Registry
	clock         *anchor.ClockPeer
	dmxLink       *dmx.Link
	status        *status.Register
	render        *status.RenderEnable
	fixtureOpts   map[string]unit.Opts
	oracleFactory func() fairplay.Oracle

	nextID atomic.Uint64

	mu    sync.Mutex
	conns map[uint64]*Conn
}

// New constructs a Manager. oracleFactory produces a fresh fairplay
// Oracle per connection; handshake state is per-session.
func New(cfg *config.Config, reg *stats.Registry, clock *anchor.ClockPeer, dmxLink *dmx.Link, oracleFactory func() fairplay.Oracle) *Manager {
	return &Manager{
		cfg:           cfg,
		stats:         reg,
		clock:         clock,
		dmxLink:       dmxLink,
		status:        &status.Register{},
		render:        &status.RenderEnable{},
		fixtureOpts:   fixtureOptsFromConfig(cfg),
		oracleFactory: oracleFactory,
		conns:         make(map[uint64]*Conn),
	}
}

func fixtureOptsFromConfig(cfg *config.Config) map[string]unit.Opts {
	opts := make(map[string]unit.Opts, len(cfg.Units))
	for _, u := range cfg.Units {
		opts[u.Name] = unit.Opts{Name: u.Name, Type: u.Type, Address: u.Address}
	}
	return opts
}

// Status returns the process-wide status register, for a /info or
// health-check handler to read.
func (m *Manager) Status() *status.Register { return m.status }

// Serve accepts connections from ln until ctx is canceled or Accept
// fails, handling each on its own goroutine.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go m.handle(ctx, conn)
	}
}

// handle owns netConn for its lifetime: it builds a Conn and Session,
// serves RTSP requests until the peer disconnects, then guarantees
// teardown runs exactly once even if the client never sent TEARDOWN.
func (m *Manager) handle(parent context.Context, netConn net.Conn) {
	id := m.nextID.Add(1)
	c := newConn(id, m)
	m.put(c)

	oracle := m.oracleFactory()
	session := rtsp.NewSession(id, oracle, c, rtsp.Hooks{
		OnSetupComplete: c.onSetupComplete,
		OnRecord:        c.onRecord,
		OnFlush:         c.onFlush,
		OnAnchor:        c.onAnchor,
		OnTeardown:      c.onTeardown,
	})
	c.session = session

	log.Debug("connection accepted", "session", id, "remote", netConn.RemoteAddr())

	rtsp.Serve(netConn, session)

	c.teardown()
	m.remove(id)
}

func (m *Manager) put(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.id] = c
}

func (m *Manager) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

// Shutdown tears down every live connection, for graceful process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.teardown()
	}
}
