// Package fairplay models the FairPlay pairing handshake as an opaque
// oracle. The cryptographic bitstream lives in an external binding;
// Oracle is the interface that binding satisfies, so internal/rtsp
// never depends on the actual handshake bytes.
package fairplay

import "errors"

// ErrOracleFailure is returned by any entry point when the handshake
// fails verification; the RTSP session maps this to a 403 Unauthorized
// reply.
var ErrOracleFailure = errors.New("fairplay: oracle failure")

// Oracle is the handshake's three-entry-point surface: PairSetup (one
// or more rounds), PairVerify (yields the session key on completion),
// and Reset (discards in-progress state, called when a session returns
// to Unpaired).
type Oracle interface {
	// PairSetup advances one round of pair-setup. done reports whether
	// this was the final round.
	PairSetup(round []byte) (resp []byte, done bool, err error)

	// PairVerify advances one round of pair-verify. Once done is true,
	// key holds the 32-byte session key.
	PairVerify(round []byte) (resp []byte, done bool, key [32]byte, err error)

	// Reset discards any in-progress handshake state.
	Reset()
}

// Fake is a deterministic Oracle used by tests and by any build that
// has not wired in a real FairPlay binding: it completes pair-setup in
// one round and pair-verify in one round, deriving the session key from
// the verify round's bytes so fixtures are reproducible.
type Fake struct {
	// Key, if non-zero, is returned verbatim by PairVerify instead of
	// being derived from the round bytes.
	Key [32]byte
}

// PairSetup completes unconditionally on its first call, echoing the
// round bytes back as the response.
func (f *Fake) PairSetup(round []byte) ([]byte, bool, error) {
	return append([]byte(nil), round...), true, nil
}

// PairVerify completes unconditionally on its first call. If Key is
// unset, the session key is derived by folding the round bytes into 32
// bytes (not cryptography, just a reproducible fixture derivation).
func (f *Fake) PairVerify(round []byte) ([]byte, bool, [32]byte, error) {
	key := f.Key
	if key == ([32]byte{}) {
		for i, b := range round {
			key[i%32] ^= b
		}
	}
	return append([]byte(nil), round...), true, key, nil
}

// Reset is a no-op: Fake carries no in-progress state across calls.
func (f *Fake) Reset() {}
