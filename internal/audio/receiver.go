// Package audio is Pierre's TCP audio-data receiver: length-prefixed,
// ciphered ALAC packets land here, get deciphered, decoded, and
// inserted into the current WIP reel.
package audio

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pion/rtp"

	"github.com/wisslanding/pierre/internal/alac"
	"github.com/wisslanding/pierre/internal/cipher"
	"github.com/wisslanding/pierre/internal/perr"
	"github.com/wisslanding/pierre/internal/plog"
	"github.com/wisslanding/pierre/internal/reel"
	"github.com/wisslanding/pierre/internal/stats"
)

var log = plog.With("audio")

// RetransmitThreshold is how large an RTP sequence gap must be before a
// retransmit request is enqueued.
const RetransmitThreshold = 3

// KeySource supplies the current session key; the audio context reads
// it only after the RTSP session has published it.
type KeySource interface {
	SessionKey() cipher.SessionKey
}

// OnGap is called when a sequence gap of at least RetransmitThreshold
// is detected, so the caller can issue a retransmit request over the
// control channel.
type OnGap func(seqStart, count uint16)

// Receiver accepts one TCP connection at a time from the sender and
// feeds decoded frames into a Rack.
type Receiver struct {
	keys    KeySource
	decoder *alac.Adapter
	fmtp    alac.FMTP
	rack    *reel.Rack
	stats   *stats.Registry
	onGap   OnGap

	lastSeq     uint16
	haveLastSeq bool
}

// New constructs a Receiver. fmtp is the 12 ints captured at SETUP.
func New(keys KeySource, decoder *alac.Adapter, fmtp alac.FMTP, rack *reel.Rack, reg *stats.Registry, onGap OnGap) *Receiver {
	return &Receiver{keys: keys, decoder: decoder, fmtp: fmtp, rack: rack, stats: reg, onGap: onGap}
}

// Listen opens the TCP audio-data socket; 0 binds an ephemeral port,
// and the actual bound port is returned for the SETUP reply.
func Listen(port int) (net.Listener, int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, 0, perr.ErrIOOther
	}
	return ln, ln.Addr().(*net.TCPAddr).Port, nil
}

// Serve reads length-prefixed frames (2-byte big-endian length followed
// by that many bytes) from conn until EOF or error. Packets are
// processed in arrival order; conn is exclusively owned by this call.
func (r *Receiver) Serve(conn net.Conn) {
	defer conn.Close()

	var lenBuf [2]byte
	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint16(lenBuf[:])

		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		r.handlePacket(payload, time.Now())
	}
}

// HandlePacket processes one already-framed packet arriving out of
// band, identically to a packet read off the TCP stream. The control
// receiver feeds retransmit responses back through here so recovered
// packets land in the same reel.
func (r *Receiver) HandlePacket(packet []byte, arrival time.Time) {
	r.handlePacket(packet, arrival)
}

// handlePacket runs one packet through header parse -> decipher ->
// decode -> insert. Per-frame failures are not fatal: they're logged at
// a throttled rate, counted, and dropped; the stream continues.
func (r *Receiver) handlePacket(packet []byte, arrival time.Time) {
	var hdr rtp.Header
	n, err := hdr.Unmarshal(packet)
	if err != nil {
		if plog.Every("audio-header-parse", time.Second) {
			log.Warn("malformed RTP header, dropping packet")
		}
		return
	}

	r.checkGap(hdr.SequenceNumber)

	frame := reel.NewAudioFrame(hdr.Timestamp, hdr.SequenceNumber, arrival)
	frame.State = reel.HeaderParsed

	key := r.keys.SessionKey()
	plaintext, err := cipher.Decrypt(key, packet[n:])
	if err != nil {
		frame.State = reel.DecipherFailure
		if plog.Every("audio-decipher", time.Second) {
			log.Warn("decipher failure", "seq", hdr.SequenceNumber)
		}
		return
	}
	frame.State = reel.Deciphered
	r.stats.Inc(stats.RTSPAudioCiphered)

	pcm, err := r.decoder.DecodeOne(plaintext, r.fmtp)
	if err != nil {
		frame.State = reel.DecodeFailure
		if plog.Every("audio-decode", time.Second) {
			log.Warn("decode failure", "seq", hdr.SequenceNumber)
		}
		return
	}
	frame.PCM = pcm
	frame.State = reel.Decoded

	if err := r.rack.Insert(frame, arrival); err != nil {
		r.stats.Inc(stats.RackCollision)
		if plog.Every("audio-rack-collision", time.Second) {
			log.Warn("rack collision", "rtp_time", hdr.Timestamp)
		}
	}
}

// checkGap watches for forward jumps in the sequence number. Backward
// steps (late or retransmitted packets) are not gaps and must not
// produce a wrapped, near-2^16 count.
func (r *Receiver) checkGap(seq uint16) {
	defer func() { r.lastSeq = seq; r.haveLastSeq = true }()

	if !r.haveLastSeq {
		return
	}

	if !reel.SeqLess(r.lastSeq, seq) {
		return
	}

	gap := seq - r.lastSeq - 1
	if gap >= RetransmitThreshold && r.onGap != nil {
		r.onGap(r.lastSeq+1, gap)
	}
}
