// Package status holds Pierre's process-wide status bitfield and the
// render-enable flag. Both live on explicit structs handed to
// components at construction, never as package globals.
package status

import "sync/atomic"

// Flags is the receiver status bitfield advertised to senders.
type Flags uint32

const (
	AudioLink Flags = 1 << iota
	RemoteControlRelay
	ReceiverSessionIsActive
)

// Ready sets only AudioLink.
func Ready() Flags { return AudioLink }

// Playing sets all three bits.
func Playing() Flags { return AudioLink | RemoteControlRelay | ReceiverSessionIsActive }

// Has reports whether bit is set.
func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Register is an atomically updated Flags holder, read by any component
// without a lock.
type Register struct {
	bits atomic.Uint32
}

// Set publishes f as the current flags.
func (r *Register) Set(f Flags) { r.bits.Store(uint32(f)) }

// Get returns the current flags.
func (r *Register) Get() Flags { return Flags(r.bits.Load()) }

// RenderEnable is the process-wide render flag: set on RECORD, cleared
// on TEARDOWN.
type RenderEnable struct {
	enabled atomic.Bool
}

// Set enables or disables rendering.
func (r *RenderEnable) Set(v bool) { r.enabled.Store(v) }

// Enabled reports whether rendering is currently enabled.
func (r *RenderEnable) Enabled() bool { return r.enabled.Load() }
