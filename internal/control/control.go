// Package control implements Pierre's UDP control receiver: RTCP-style
// retransmit requests/responses and timing pings on a port allocated at
// SETUP.
package control

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/wisslanding/pierre/internal/perr"
)

// Type is the RTCP-style packet type carried in the header's second
// byte.
type Type uint8

const (
	TypeTimingRequest      Type = 0xd2
	TypeTimingResponse     Type = 0xd3
	TypeRetransmitRequest  Type = 0xd5
	TypeRetransmitResponse Type = 0xd6
)

// Header is the fixed 4-byte RTCP-style control header:
// vpm(1) type(1) length(2 BE, in 32-bit words including the header).
type Header struct {
	Version  uint8
	Padding  bool
	Marker   bool
	Type     Type
	LenWords uint16 // length in 32-bit words, including this header
}

// ParseHeader decodes the 4-byte header from the front of buf.
func ParseHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < 4 {
		return Header{}, nil, perr.ErrParseFailure
	}

	vpm := buf[0]
	h := Header{
		Version:  vpm >> 6,
		Padding:  vpm&0x20 != 0,
		Marker:   vpm&0x10 != 0,
		Type:     Type(buf[1]),
		LenWords: binary.BigEndian.Uint16(buf[2:4]),
	}

	want := int(h.LenWords) * 4
	if want < 4 || want > len(buf) {
		return Header{}, nil, perr.ErrParseFailure
	}

	return h, buf[4:want], nil
}

// RetransmitRequest is a gap Pierre detected in the RTP sequence,
// enqueued by the audio-data receiver once the gap clears its
// threshold.
type RetransmitRequest struct {
	SeqStart uint16
	Count    uint16
}

// AudioFrameHandler is called with the raw (still ciphered) payload of
// a retransmit-response packet, to be fed through the same
// cipher->decode->insert pipeline as a normally-arrived audio packet so
// recovered frames land in the same reel.
type AudioFrameHandler func(payload []byte, arrival time.Time) error

// TimingHandler is called on a received timing response, with the
// round-trip the caller can feed to its clock model.
type TimingHandler func(sent, received time.Time)

// Receiver owns the UDP control socket.
type Receiver struct {
	conn     *net.UDPConn
	onAudio  AudioFrameHandler
	onTiming TimingHandler

	mu   sync.Mutex
	peer *net.UDPAddr
}

// Listen opens the UDP control socket on port (0 = ephemeral, the
// actual bound port is returned for the SETUP reply).
func Listen(port int, onAudio AudioFrameHandler, onTiming TimingHandler) (*Receiver, int, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, 0, perr.ErrIOOther
	}

	r := &Receiver{conn: conn, onAudio: onAudio, onTiming: onTiming}
	return r, conn.LocalAddr().(*net.UDPAddr).Port, nil
}

// SetPeer records the sender's control address so outbound retransmit
// requests know where to go. Run also learns it from the first inbound
// control packet, so explicit calls are only needed when the sender
// never speaks first.
func (r *Receiver) SetPeer(addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peer = addr
}

func (r *Receiver) peerAddr() *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peer
}

// RequestRetransmit sends a retransmit request for
// [seqStart, seqStart+count) to the peer. Returns perr.ErrNoConn while
// no peer address is known yet.
func (r *Receiver) RequestRetransmit(req RetransmitRequest) error {
	peer := r.peerAddr()
	if peer == nil {
		return perr.ErrNoConn
	}

	buf := make([]byte, 8)
	buf[0] = 0x80
	buf[1] = byte(TypeRetransmitRequest)
	binary.BigEndian.PutUint16(buf[2:4], 2)
	binary.BigEndian.PutUint16(buf[4:6], req.SeqStart)
	binary.BigEndian.PutUint16(buf[6:8], req.Count)

	_, err := r.conn.WriteToUDP(buf, peer)
	if err != nil {
		return perr.ErrIOOther
	}
	return nil
}

// Run reads and dispatches control packets until the socket is closed.
// It owns the socket for its lifetime; Close unblocks it.
func (r *Receiver) Run() error {
	buf := make([]byte, 2048)

	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return perr.ErrIOCanceled
		}

		r.mu.Lock()
		if r.peer == nil {
			r.peer = from
		}
		r.mu.Unlock()

		now := time.Now()
		header, body, err := ParseHeader(buf[:n])
		if err != nil {
			continue // malformed packet: drop, don't tear down the session
		}

		switch header.Type {
		case TypeRetransmitResponse:
			if r.onAudio != nil {
				r.onAudio(body, now)
			}
		case TypeTimingResponse:
			if r.onTiming != nil && len(body) >= 8 {
				sentNanos := int64(binary.BigEndian.Uint64(body[:8]))
				r.onTiming(time.Unix(0, sentNanos), now)
			}
		}
	}
}

// Close releases the control socket.
func (r *Receiver) Close() error {
	return r.conn.Close()
}
