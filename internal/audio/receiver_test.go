package audio

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisslanding/pierre/internal/alac"
	"github.com/wisslanding/pierre/internal/anchor"
	"github.com/wisslanding/pierre/internal/cipher"
	"github.com/wisslanding/pierre/internal/reel"
	"github.com/wisslanding/pierre/internal/stats"
)

type fixedKey struct{ key cipher.SessionKey }

func (f *fixedKey) SessionKey() cipher.SessionKey { return f.key }

func testKey() cipher.SessionKey {
	var k cipher.SessionKey
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

// buildPacket assembles one wire-shaped audio packet: RTP header, then
// the AEAD block (AAD, ciphertext+tag, trailing 8-byte nonce).
func buildPacket(t *testing.T, key cipher.SessionKey, seq uint16, ts uint32, payload []byte) []byte {
	t.Helper()

	hdr := rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: ts}
	hdrBytes, err := hdr.Marshal()
	require.NoError(t, err)

	nonce8 := [8]byte{byte(seq), byte(seq >> 8), 0, 0, 0, 0, 0, 1}
	block, err := cipher.Encrypt(key, []byte{0x80, 0x60, byte(seq >> 8), byte(seq)}, payload, nonce8)
	require.NoError(t, err)

	return append(hdrBytes, block...)
}

func newTestReceiver(gaps *[]RetransmitSpan) (*Receiver, *reel.Rack, *stats.Registry) {
	rack := reel.NewRack(reel.Config{WipMax: 3, WipTimeout: time.Hour})
	reg := stats.New()
	onGap := func(start, count uint16) {
		if gaps != nil {
			*gaps = append(*gaps, RetransmitSpan{start, count})
		}
	}
	r := New(&fixedKey{key: testKey()}, alac.New(alac.SilentDecoder{}), alac.FMTP{}, rack, reg, onGap)
	return r, rack, reg
}

// RetransmitSpan records one OnGap invocation.
type RetransmitSpan struct {
	Start, Count uint16
}

func TestHandlePacketDecipheredAndInserted(t *testing.T) {
	r, rack, reg := newTestReceiver(nil)
	now := time.Now()

	for i := 0; i < 3; i++ {
		pkt := buildPacket(t, testKey(), uint16(i+1), 100000+uint32(i)*352, []byte("alac payload"))
		r.HandlePacket(pkt, now)
	}

	assert.Equal(t, 1, rack.ReelCount())
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.Counters[stats.RTSPAudioCiphered]))
}

func TestHandlePacketCorruptTagDropped(t *testing.T) {
	r, rack, reg := newTestReceiver(nil)
	now := time.Now()

	pkt := buildPacket(t, testKey(), 1, 100000, []byte("alac payload"))
	pkt[len(pkt)-12] ^= 0x01 // inside the Poly1305 tag

	r.HandlePacket(pkt, now)

	assert.Equal(t, 0, rack.ReelCount())
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.Counters[stats.RTSPAudioCiphered]))
}

func TestHandlePacketNoSharedKeyDropped(t *testing.T) {
	rack := reel.NewRack(reel.Config{WipMax: 1, WipTimeout: time.Hour})
	reg := stats.New()
	r := New(&fixedKey{}, alac.New(alac.SilentDecoder{}), alac.FMTP{}, rack, reg, nil)

	pkt := buildPacket(t, testKey(), 1, 100000, []byte("alac payload"))
	r.HandlePacket(pkt, time.Now())

	assert.Equal(t, 0, rack.ReelCount())
}

func TestOutOfOrderArrivalRendersInRTPOrder(t *testing.T) {
	r, rack, _ := newTestReceiver(nil)
	now := time.Now()

	for _, seq := range []uint16{3, 1, 2} {
		ts := 100000 + uint32(seq)*352
		r.HandlePacket(buildPacket(t, testKey(), seq, ts, []byte("alac payload")), now)
	}

	require.Equal(t, 1, rack.ReelCount())

	last := anchor.Last{ClockID: 1, RTPTime: 100000, Localized: now}
	rack.PrepareReady(now, last, anchor.Window{OutdatedSlack: time.Second, FutureSlack: time.Second})

	var order []uint32
	for {
		f := rack.PopReady()
		if f == nil {
			break
		}
		order = append(order, f.RTPTime)
	}

	require.Len(t, order, 3)
	for i := 1; i < len(order); i++ {
		assert.True(t, reel.RTPLess(order[i-1], order[i]))
	}
}

func TestGapTriggersRetransmitRequest(t *testing.T) {
	var gaps []RetransmitSpan
	r, _, _ := newTestReceiver(&gaps)
	now := time.Now()

	r.HandlePacket(buildPacket(t, testKey(), 1, 100000, []byte("a")), now)
	r.HandlePacket(buildPacket(t, testKey(), 6, 100000+5*352, []byte("b")), now)

	require.Len(t, gaps, 1)
	assert.Equal(t, RetransmitSpan{Start: 2, Count: 4}, gaps[0])
}

func TestBackwardArrivalIsNotAGap(t *testing.T) {
	var gaps []RetransmitSpan
	r, _, _ := newTestReceiver(&gaps)
	now := time.Now()

	r.HandlePacket(buildPacket(t, testKey(), 6, 100000+5*352, []byte("a")), now)
	r.HandlePacket(buildPacket(t, testKey(), 2, 100000+1*352, []byte("b")), now)

	assert.Empty(t, gaps)
}
