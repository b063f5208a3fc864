package rtsp

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wisslanding/pierre/internal/alac"
	"github.com/wisslanding/pierre/internal/anchor"
	"github.com/wisslanding/pierre/internal/cipher"
	"github.com/wisslanding/pierre/internal/fairplay"
	"github.com/wisslanding/pierre/internal/plist"
	"github.com/wisslanding/pierre/internal/plog"
	"github.com/wisslanding/pierre/internal/reel"
)

var log = plog.With("rtsp")

// State is the session's position in its lifecycle:
// Unpaired -> Pairing -> Paired -> SetupComplete -> Recording ->
// Teardown.
type State int

const (
	Unpaired State = iota
	Pairing
	Paired
	SetupComplete
	Recording
	Teardown
)

func (s State) String() string {
	switch s {
	case Unpaired:
		return "Unpaired"
	case Pairing:
		return "Pairing"
	case Paired:
		return "Paired"
	case SetupComplete:
		return "SetupComplete"
	case Recording:
		return "Recording"
	case Teardown:
		return "Teardown"
	default:
		return "Unknown"
	}
}

// PortAllocator hands out the audio-data TCP port and control UDP port
// a SETUP reply must carry. Allocation is delegated because opening the
// actual sockets is the owning server's job, not the protocol state
// machine's.
type PortAllocator interface {
	AllocateAudioPort() (int, error)
	AllocateControlPort() (int, error)
}

// GroupInfo captures the timing/group fields a SETUP's top-level
// dictionary carries.
type GroupInfo struct {
	TimingPeerInfo      []string
	GroupUUID           string
	GroupContainsLeader bool
	TimingProtocolIsPTP bool
}

// Hooks are the side effects a Session's handlers trigger on its owning
// server. All hooks are optional; a nil hook is a no-op.
type Hooks struct {
	// OnSetupComplete fires once both the streams and timing/group
	// checks pass, carrying the allocated ports and captured fmtp.
	OnSetupComplete func(audioPort, controlPort int, fmtp alac.FMTP, group GroupInfo)
	// OnRecord fires on RECORD: enable the data receiver and render loop.
	OnRecord func()
	// OnFlush fires on FLUSH/FLUSHBUFFERED.
	OnFlush func(reel.FlushInfo)
	// OnAnchor fires on an ANCHOR message with fresh AnchorData.
	OnAnchor func(anchor.Data)
	// OnTeardown fires on TEARDOWN: cancel all session I/O.
	OnTeardown func()
}

// Session is one RTSP connection's state machine. A Session is owned by
// its connection goroutine and never shared across connections. It
// holds no reference to the owning server; its side effects reach the
// server only through Hooks.
type Session struct {
	id     uint64
	oracle fairplay.Oracle
	ports  PortAllocator
	hooks  Hooks

	state State
	key   atomic.Pointer[cipher.SessionKey]

	fmtp alac.FMTP
}

// NewSession constructs a Session in the Unpaired state.
func NewSession(id uint64, oracle fairplay.Oracle, ports PortAllocator, hooks Hooks) *Session {
	s := &Session{id: id, oracle: oracle, ports: ports, hooks: hooks, state: Unpaired}
	s.key.Store(&cipher.SessionKey{})
	return s
}

// ID returns the session's slab id.
func (s *Session) ID() uint64 { return s.id }

// State returns the session's current FSM state.
func (s *Session) State() State { return s.state }

// SessionKey implements audio.KeySource: the audio-data context reads
// the key only after pair-verify has published it.
func (s *Session) SessionKey() cipher.SessionKey {
	return *s.key.Load()
}

// Handle dispatches one parsed request to its handler and returns the
// reply to write back. Session-fatal parse errors are handled by the
// caller before Handle is reached; Handle itself never returns a nil
// *Response.
func (s *Session) Handle(req *Request) *Response {
	switch {
	case req.Method == "POST" && req.Path == "/pair-setup":
		return s.handlePairSetup(req)
	case req.Method == "POST" && req.Path == "/pair-verify":
		return s.handlePairVerify(req)
	case req.Method == "SETUP":
		return s.handleSetup(req)
	case req.Method == "GET_PARAMETER":
		return Plain(req.CSeq, OK)
	case req.Method == "SET_PARAMETER":
		return Plain(req.CSeq, OK)
	case req.Method == "RECORD":
		return s.handleRecord(req)
	case req.Method == "FLUSH", req.Method == "FLUSHBUFFERED":
		return s.handleFlush(req)
	case req.Method == "TEARDOWN":
		return s.handleTeardown(req)
	case req.Method == "POST" && req.Path == "/feedback":
		return Plain(req.CSeq, OK)
	case req.Method == "POST" && req.Path == "/command":
		return s.handleCommand(req)
	case req.Method == "SETPEERS":
		return Plain(req.CSeq, OK)
	case req.Method == "ANCHOR":
		return s.handleAnchor(req)
	case req.Method == "GET" && req.Path == "/info":
		return s.handleInfo(req)
	default:
		return Plain(req.CSeq, NotImplemented)
	}
}

func (s *Session) handlePairSetup(req *Request) *Response {
	if s.state != Unpaired && s.state != Pairing {
		return Plain(req.CSeq, AuthRequired)
	}
	s.state = Pairing

	resp, done, err := s.oracle.PairSetup(req.Body)
	if err != nil {
		s.oracle.Reset()
		s.state = Unpaired
		return Plain(req.CSeq, Unauthorized)
	}

	if done {
		s.state = Paired
	}

	return WithOctetStream(req.CSeq, OK, resp)
}

func (s *Session) handlePairVerify(req *Request) *Response {
	if s.state != Unpaired && s.state != Pairing && s.state != Paired {
		return Plain(req.CSeq, AuthRequired)
	}

	resp, done, key, err := s.oracle.PairVerify(req.Body)
	if err != nil {
		s.oracle.Reset()
		s.state = Unpaired
		return Plain(req.CSeq, Unauthorized)
	}

	if done {
		sk := cipher.SessionKey(key)
		s.key.Store(&sk)
		s.state = Paired
	}

	return WithOctetStream(req.CSeq, OK, resp)
}

// handleSetup: a streams array allocates ports, a top-level
// timing/group dict validates PTP and captures group fields; both
// checks passing transitions to SetupComplete.
func (s *Session) handleSetup(req *Request) *Response {
	if s.state != Paired && s.state != SetupComplete {
		return Plain(req.CSeq, AuthRequired)
	}

	body, err := plist.Decode(req.Body)
	if err != nil {
		return Plain(req.CSeq, BadRequest)
	}

	reply := plist.Dict{}

	streamsOK := false
	if streams := body.Array("streams"); streams != nil {
		audioPort, err := s.ports.AllocateAudioPort()
		if err != nil {
			return Plain(req.CSeq, InternalServerError)
		}
		controlPort, err := s.ports.AllocateControlPort()
		if err != nil {
			return Plain(req.CSeq, InternalServerError)
		}

		s.fmtp = captureFMTP(streams)

		reply["streams"] = []any{
			plist.Dict{
				"type":            int64(96),
				"dataPort":        int64(audioPort),
				"controlPort":     int64(controlPort),
				"audioBufferSize": int64(1024 * 1024),
			},
		}
		streamsOK = true
	}

	group := GroupInfo{}
	timingOK := true
	if timing, ok := body["timingProtocol"]; ok {
		proto, _ := timing.(string)
		timingOK = proto == "PTP"
		if peers := body.Array("timingPeerInfo"); peers != nil {
			for _, p := range peers {
				if ps, ok := p.(string); ok {
					group.TimingPeerInfo = append(group.TimingPeerInfo, ps)
				}
			}
		}
		group.GroupUUID = body.String("groupUUID")
		group.GroupContainsLeader = body.Bool("groupContainsLeader")
		group.TimingProtocolIsPTP = timingOK
	}

	if streamsOK && timingOK {
		log.Debug("setup complete", "session", s.id)
		s.state = SetupComplete
		if s.hooks.OnSetupComplete != nil {
			var audioPort, controlPort int
			if rs, ok := reply["streams"].([]any); ok && len(rs) > 0 {
				if d := plist.AsDict(rs[0]); d != nil {
					audioPort = int(d.Int("dataPort"))
					controlPort = int(d.Int("controlPort"))
				}
			}
			s.hooks.OnSetupComplete(audioPort, controlPort, s.fmtp, group)
		}
	} else if !timingOK {
		return Plain(req.CSeq, BadRequest)
	}

	out, err := plist.EncodeBinary(reply)
	if err != nil {
		return Plain(req.CSeq, InternalServerError)
	}
	return WithPlist(req.CSeq, OK, out)
}

// captureFMTP reads the 12 fmtp integers from the first stream entry.
func captureFMTP(streams []any) alac.FMTP {
	var fmtp alac.FMTP
	if len(streams) == 0 {
		return fmtp
	}
	d := plist.AsDict(streams[0])
	if d == nil {
		return fmtp
	}
	raw := d.Array("fmtp")
	for i := 0; i < len(raw) && i < len(fmtp); i++ {
		switch v := raw[i].(type) {
		case int64:
			fmtp[i] = int(v)
		case uint64:
			fmtp[i] = int(v)
		}
	}
	return fmtp
}

func (s *Session) handleRecord(req *Request) *Response {
	if s.state != SetupComplete {
		return Plain(req.CSeq, AuthRequired)
	}
	s.state = Recording
	log.Debug("recording", "session", s.id)
	if s.hooks.OnRecord != nil {
		s.hooks.OnRecord()
	}
	return Plain(req.CSeq, OK)
}

func (s *Session) handleFlush(req *Request) *Response {
	if s.state != Recording && s.state != SetupComplete {
		return Plain(req.CSeq, AuthRequired)
	}

	body, err := plist.Decode(req.Body)
	if err != nil {
		return Plain(req.CSeq, BadRequest)
	}

	info := reel.FlushInfo{
		UntilSeq: uint16(body.Int("flushUntilSeq")),
		UntilRTP: uint32(body.Int("flushUntilRTP")),
	}

	if s.hooks.OnFlush != nil {
		s.hooks.OnFlush(info)
	}

	return Plain(req.CSeq, OK)
}

func (s *Session) handleTeardown(req *Request) *Response {
	s.state = Teardown
	s.key.Store(&cipher.SessionKey{})
	s.oracle.Reset()
	s.state = Unpaired
	log.Debug("teardown", "session", s.id)

	if s.hooks.OnTeardown != nil {
		s.hooks.OnTeardown()
	}

	return Plain(req.CSeq, OK)
}

func (s *Session) handleCommand(req *Request) *Response {
	body, err := plist.Decode(req.Body)
	if err != nil {
		return Plain(req.CSeq, BadRequest)
	}

	if body.String("type") == "updateMRSupportedCommands" {
		return Plain(req.CSeq, BadRequest)
	}
	return Plain(req.CSeq, OK)
}

// handleAnchor parses the sender's anchor timing and publishes it via
// the OnAnchor hook, which the owning server wires to
// anchor.Manager.Update.
func (s *Session) handleAnchor(req *Request) *Response {
	body, err := plist.Decode(req.Body)
	if err != nil {
		return Plain(req.CSeq, BadRequest)
	}

	data := anchor.Data{
		ClockID:       uint64(body.Int("clockID")),
		AnchorRTPTime: uint32(body.Int("rtpTime")),
		AnchorNetTime: time.Unix(0, body.Int("networkTimeNanos")),
		ValidUntil:    time.Duration(body.Int("validUntilNanos")),
	}

	if s.hooks.OnAnchor != nil {
		s.hooks.OnAnchor(data)
	}

	return Plain(req.CSeq, OK)
}

// handleInfo answers GET /info with a dict derived from runtime info.
// The stage-1 variant (an embedded plist asset shipped with the binary)
// is answered the same way until the asset pipeline exists.
func (s *Session) handleInfo(req *Request) *Response {
	info := plist.Dict{
		"deviceID":    s.id,
		"features":    int64(0x445F8A00),
		"pi":          uuid.NewString(),
		"statusFlags": int64(4),
	}

	out, err := plist.EncodeBinary(info)
	if err != nil {
		return Plain(req.CSeq, InternalServerError)
	}
	return WithPlist(req.CSeq, OK, out)
}
