// Package cipher implements Pierre's per-packet ChaCha20-Poly1305
// decipher. Nonce and AAD construction follow the AirPlay audio-data
// framing byte-for-byte; this is not a general AEAD wrapper.
package cipher

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/wisslanding/pierre/internal/perr"
)

// KeySize is the session key length.
const KeySize = 32

const (
	nonceSize = 12
	tagSize   = 16
	aadSize   = 4
)

// SessionKey is Pierre's 32-byte shared key, set exactly once per RTSP
// session at pair-verify completion and invalidated on TEARDOWN.
type SessionKey [KeySize]byte

// Zero overwrites the key in place; called on TEARDOWN so a stale key
// can never be reused.
func (k *SessionKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// IsZero reports whether the key has never been set or was zeroed.
func (k *SessionKey) IsZero() bool {
	for _, b := range k {
		if b != 0 {
			return false
		}
	}
	return true
}

// Decrypt deciphers one audio-data packet laid out as
// AAD(4) || ciphertext || tag(16) || nonce8(8). The AAD is the first 4
// bytes of the packet (the AirPlay audio header); the 12-byte nonce is
// the zero-padded 8 bytes carried at the end of the packet.
//
// Returns perr.ErrNoSharedKey if key is zero, perr.ErrDecipherFailure on
// any malformed packet or AEAD tag mismatch.
func Decrypt(key SessionKey, packet []byte) ([]byte, error) {
	if key.IsZero() {
		return nil, perr.ErrNoSharedKey
	}

	if len(packet) < aadSize+tagSize+8 {
		return nil, perr.ErrDecipherFailure
	}

	aad := packet[:aadSize]
	nonce8 := packet[len(packet)-8:]
	ciphertextAndTag := packet[aadSize : len(packet)-8]

	var nonce [nonceSize]byte
	copy(nonce[:8], nonce8) // upper 4 bytes stay zero

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, errors.Join(perr.ErrDecipherFailure, err)
	}

	plaintext, err := aead.Open(make([]byte, 0, len(ciphertextAndTag)-tagSize), nonce[:], ciphertextAndTag, aad)
	if err != nil {
		return nil, perr.ErrDecipherFailure
	}

	return plaintext, nil
}

// Encrypt is the inverse of Decrypt, used by tests to build fixtures
// and to exercise the round-trip property.
func Encrypt(key SessionKey, aad, plaintext []byte, nonce8 [8]byte) ([]byte, error) {
	if key.IsZero() {
		return nil, perr.ErrNoSharedKey
	}
	if len(aad) != aadSize {
		return nil, errors.New("cipher: aad must be 4 bytes")
	}

	var nonce [nonceSize]byte
	copy(nonce[:8], nonce8[:])

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}

	ciphertextAndTag := aead.Seal(nil, nonce[:], plaintext, aad)

	out := make([]byte, 0, aadSize+len(ciphertextAndTag)+8)
	out = append(out, aad...)
	out = append(out, ciphertextAndTag...)
	out = append(out, nonce8[:]...)

	return out, nil
}
