package alac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDecoder struct {
	out []byte
	err error
}

func (f *fakeDecoder) Decode(payload []byte, fmtp FMTP) ([]byte, error) {
	return f.out, f.err
}

func TestDecodeOneSuccess(t *testing.T) {
	out := make([]byte, FrameBytes)
	a := New(&fakeDecoder{out: out})

	pcm, err := a.DecodeOne([]byte("ciphertext"), FMTP{})
	require.NoError(t, err)
	assert.Len(t, pcm, FrameBytes)
}

func TestDecodeOneWrongSizeFails(t *testing.T) {
	a := New(&fakeDecoder{out: make([]byte, FrameBytes-2)})

	_, err := a.DecodeOne([]byte("x"), FMTP{})
	assert.Error(t, err)
}

func TestDecodeOneUpstreamErrorFails(t *testing.T) {
	a := New(&fakeDecoder{err: errors.New("boom")})

	_, err := a.DecodeOne([]byte("x"), FMTP{})
	assert.Error(t, err)
}
