package rtsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisslanding/pierre/internal/alac"
	"github.com/wisslanding/pierre/internal/anchor"
	"github.com/wisslanding/pierre/internal/fairplay"
	"github.com/wisslanding/pierre/internal/plist"
	"github.com/wisslanding/pierre/internal/reel"
)

type fakePorts struct{ audio, control int }

func (f *fakePorts) AllocateAudioPort() (int, error)   { return f.audio, nil }
func (f *fakePorts) AllocateControlPort() (int, error) { return f.control, nil }

func TestSessionFullHandshakeToRecord(t *testing.T) {
	var setupCalled, recordCalled bool
	var gotFMTP alac.FMTP

	hooks := Hooks{
		OnSetupComplete: func(audioPort, controlPort int, fmtp alac.FMTP, group GroupInfo) {
			setupCalled = true
			gotFMTP = fmtp
			assert.Equal(t, 4000, audioPort)
			assert.Equal(t, 4001, controlPort)
		},
		OnRecord: func() { recordCalled = true },
	}

	s := NewSession(1, &fairplay.Fake{}, &fakePorts{audio: 4000, control: 4001}, hooks)

	resp := s.Handle(&Request{Method: "POST", Path: "/pair-setup", CSeq: "1", Body: []byte("round1")})
	assert.Equal(t, OK, resp.Code)
	assert.Equal(t, Paired, s.State())

	resp = s.Handle(&Request{Method: "POST", Path: "/pair-verify", CSeq: "2", Body: []byte("verify1")})
	assert.Equal(t, OK, resp.Code)
	assert.Equal(t, Paired, s.State())
	key := s.SessionKey()
	assert.False(t, key.IsZero())

	setupBody, err := plist.EncodeBinary(plist.Dict{
		"streams": []any{
			plist.Dict{"fmtp": []any{int64(96), int64(352), int64(0), int64(16), int64(40), int64(10), int64(14), int64(2), int64(255), int64(0), int64(0), int64(44100)}},
		},
		"timingProtocol":  "PTP",
		"groupUUID":       "abc-123",
	})
	require.NoError(t, err)

	resp = s.Handle(&Request{Method: "SETUP", CSeq: "3", Body: setupBody})
	assert.Equal(t, OK, resp.Code)
	assert.Equal(t, SetupComplete, s.State())
	assert.True(t, setupCalled)
	assert.Equal(t, 44100, gotFMTP[11])

	resp = s.Handle(&Request{Method: "RECORD", CSeq: "4"})
	assert.Equal(t, OK, resp.Code)
	assert.Equal(t, Recording, s.State())
	assert.True(t, recordCalled)
}

func TestSessionPairVerifyBeforeSetupRejectsRecord(t *testing.T) {
	s := NewSession(1, &fairplay.Fake{}, &fakePorts{}, Hooks{})

	resp := s.Handle(&Request{Method: "POST", Path: "/pair-setup", CSeq: "1", Body: []byte("a")})
	require.Equal(t, OK, resp.Code)
	resp = s.Handle(&Request{Method: "POST", Path: "/pair-verify", CSeq: "2", Body: []byte("b")})
	require.Equal(t, OK, resp.Code)
	require.Equal(t, Paired, s.State())

	resp = s.Handle(&Request{Method: "RECORD", CSeq: "3"})
	assert.Equal(t, AuthRequired, resp.Code)
}

func TestSessionTeardownZeroesKeyAndResetsState(t *testing.T) {
	var tornDown bool
	hooks := Hooks{OnTeardown: func() { tornDown = true }}
	s := NewSession(1, &fairplay.Fake{}, &fakePorts{}, hooks)

	s.Handle(&Request{Method: "POST", Path: "/pair-setup", CSeq: "1", Body: []byte("a")})
	s.Handle(&Request{Method: "POST", Path: "/pair-verify", CSeq: "2", Body: []byte("b")})
	keyBefore := s.SessionKey()
	require.False(t, keyBefore.IsZero())

	resp := s.Handle(&Request{Method: "TEARDOWN", CSeq: "3"})
	assert.Equal(t, OK, resp.Code)
	assert.Equal(t, Unpaired, s.State())
	keyAfter := s.SessionKey()
	assert.True(t, keyAfter.IsZero())
	assert.True(t, tornDown)
}

func TestSessionUpdateCommandRejected(t *testing.T) {
	s := NewSession(1, &fairplay.Fake{}, &fakePorts{}, Hooks{})

	body, err := plist.EncodeBinary(plist.Dict{"type": "updateMRSupportedCommands"})
	require.NoError(t, err)

	resp := s.Handle(&Request{Method: "POST", Path: "/command", CSeq: "1", Body: body})
	assert.Equal(t, BadRequest, resp.Code)
}

func TestSessionOtherCommandAccepted(t *testing.T) {
	s := NewSession(1, &fairplay.Fake{}, &fakePorts{}, Hooks{})

	body, err := plist.EncodeBinary(plist.Dict{"type": "something-else"})
	require.NoError(t, err)

	resp := s.Handle(&Request{Method: "POST", Path: "/command", CSeq: "1", Body: body})
	assert.Equal(t, OK, resp.Code)
}

func TestSessionAnchorPublishesData(t *testing.T) {
	var got anchor.Data
	hooks := Hooks{OnAnchor: func(d anchor.Data) { got = d }}
	s := NewSession(1, &fairplay.Fake{}, &fakePorts{}, hooks)

	body, err := plist.EncodeBinary(plist.Dict{
		"clockID": int64(42),
		"rtpTime": int64(100000),
	})
	require.NoError(t, err)

	resp := s.Handle(&Request{Method: "ANCHOR", CSeq: "1", Body: body})
	assert.Equal(t, OK, resp.Code)
	assert.Equal(t, uint64(42), got.ClockID)
	assert.Equal(t, uint32(100000), got.AnchorRTPTime)
}

func TestSessionFlushPublishesFlushInfo(t *testing.T) {
	var got reel.FlushInfo
	hooks := Hooks{OnFlush: func(f reel.FlushInfo) { got = f }}
	s := NewSession(1, &fairplay.Fake{}, &fakePorts{}, hooks)
	s.state = Recording

	body, err := plist.EncodeBinary(plist.Dict{
		"flushUntilSeq": int64(8),
		"flushUntilRTP": int64(100000 + 7*352),
	})
	require.NoError(t, err)

	resp := s.Handle(&Request{Method: "FLUSH", CSeq: "1", Body: body})
	assert.Equal(t, OK, resp.Code)
	assert.Equal(t, uint16(8), got.UntilSeq)
}
