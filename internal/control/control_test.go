package control

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisslanding/pierre/internal/perr"
)

func TestParseHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	buf[0] = 0x80
	buf[1] = byte(TypeRetransmitResponse)
	binary.BigEndian.PutUint16(buf[2:4], 2)
	buf[4], buf[5], buf[6], buf[7] = 1, 2, 3, 4

	h, body, err := ParseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, TypeRetransmitResponse, h.Type)
	assert.Equal(t, []byte{1, 2, 3, 4}, body)
}

func TestParseHeaderTooShortFails(t *testing.T) {
	_, _, err := ParseHeader([]byte{1, 2})
	assert.Error(t, err)
}

func TestParseHeaderLengthBeyondBufferFails(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[2:4], 100)
	_, _, err := ParseHeader(buf)
	assert.Error(t, err)
}

func TestRequestRetransmitNeedsPeer(t *testing.T) {
	r, _, err := Listen(0, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	err = r.RequestRetransmit(RetransmitRequest{SeqStart: 2, Count: 4})
	require.ErrorIs(t, err, perr.ErrNoConn)
}

func TestPeerLearnedFromFirstPacket(t *testing.T) {
	received := make(chan struct{}, 1)
	r, port, err := Listen(0, func(payload []byte, arrival time.Time) error {
		received <- struct{}{}
		return nil
	}, nil)
	require.NoError(t, err)
	defer r.Close()

	go r.Run() //nolint:errcheck

	sender, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sender.Close()

	pkt := make([]byte, 8)
	pkt[0] = 0x80
	pkt[1] = byte(TypeRetransmitResponse)
	binary.BigEndian.PutUint16(pkt[2:4], 2)

	_, err = sender.WriteToUDP(pkt, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control packet")
	}

	require.NoError(t, r.RequestRetransmit(RetransmitRequest{SeqStart: 2, Count: 4}))

	sender.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := sender.Read(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 8)
	assert.Equal(t, byte(TypeRetransmitRequest), buf[1])
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(buf[4:6]))
	assert.Equal(t, uint16(4), binary.BigEndian.Uint16(buf[6:8]))
}
