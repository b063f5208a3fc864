package fx

import (
	"time"

	"github.com/wisslanding/pierre/internal/fx/unit"
)

// DataMsg is the fixed-schema, per-tick instruction shipped to the
// light controller: a destination channel map plus per-fixture byte
// blocks, msgpack-encoded on the wire by internal/dmx.
type DataMsg struct {
	At       time.Time      `msgpack:"at"`
	Channels map[int][]byte `msgpack:"channels"`
}

// AssembleDataMsg builds a DataMsg from the current fixture Set state.
func AssembleDataMsg(now time.Time, set *unit.Set) DataMsg {
	channels := make(map[int][]byte, len(set.All()))
	for _, u := range set.All() {
		channels[u.Opts().Address] = u.Render()
	}

	return DataMsg{At: now, Channels: channels}
}
