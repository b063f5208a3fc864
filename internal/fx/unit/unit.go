// Package unit is Pierre's fixed fixture set: the physical lights FX
// writes per-channel values into before they serialize into a DataMsg.
package unit

// Fixture type strings, used as the `type` value in [units] config
// entries.
const (
	TypePinspot  = "pinspot"
	TypeDimmable = "dimmable"
	TypeSwitch   = "switch"
)

// Fixture names, used as config keys. The DataMsg channel map is keyed
// by each fixture's DMX address, not by these names.
const (
	NameMainPinspot = "main pinspot"
	NameFillPinspot = "fill pinspot"
	NameELEntry     = "el entry"
	NameELDance     = "el dance"
	NameLEDForest   = "led forest"
	NameDiscoBall   = "disco ball"
	NameACPower     = "ac power"
)

// Opts describes one configured fixture: its DMX channel address and
// type.
type Opts struct {
	Name    string
	Type    string
	Address int
}

// Color is an RGB + white/brightness tuple, the common per-fixture
// state a pinspot or dimmable fixture carries.
type Color struct {
	Red, Green, Blue, White uint8
}

// Unit is one physical fixture. Render serializes current state into
// the DMX channel bytes starting at its configured Address.
type Unit interface {
	Opts() Opts
	Render() []byte
}

// Pinspot is an RGBW moving/static spot fixture.
type Pinspot struct {
	opts  Opts
	Color Color
}

// NewPinspot constructs a Pinspot at the given fixture options.
func NewPinspot(opts Opts) *Pinspot { return &Pinspot{opts: opts} }

func (p *Pinspot) Opts() Opts { return p.opts }

func (p *Pinspot) Render() []byte {
	return []byte{p.Color.Red, p.Color.Green, p.Color.Blue, p.Color.White}
}

// Dimmable is a single-channel brightness fixture (EL wire, LED forest).
type Dimmable struct {
	opts       Opts
	Brightness uint8
}

// NewDimmable constructs a Dimmable at the given fixture options.
func NewDimmable(opts Opts) *Dimmable { return &Dimmable{opts: opts} }

func (d *Dimmable) Opts() Opts { return d.opts }

func (d *Dimmable) Render() []byte { return []byte{d.Brightness} }

// Switch is a single on/off channel (disco ball motor, AC power relay).
type Switch struct {
	opts Opts
	On   bool
}

// NewSwitch constructs a Switch at the given fixture options.
func NewSwitch(opts Opts) *Switch { return &Switch{opts: opts} }

func (s *Switch) Opts() Opts { return s.opts }

func (s *Switch) Render() []byte {
	if s.On {
		return []byte{255}
	}
	return []byte{0}
}

// Set is the fixed collection of fixtures: pinspot main/fill, EL wire
// entry/dance, LED forest, disco ball, AC power switch. Constructed
// once from configuration.
type Set struct {
	MainPinspot *Pinspot
	FillPinspot *Pinspot
	ELEntry     *Dimmable
	ELDance     *Dimmable
	LEDForest   *Dimmable
	DiscoBall   *Switch
	ACPower     *Switch
}

// NewSet builds the fixed fixture set from per-fixture Opts, keyed by
// fixture name.
func NewSet(opts map[string]Opts) *Set {
	return &Set{
		MainPinspot: NewPinspot(opts[NameMainPinspot]),
		FillPinspot: NewPinspot(opts[NameFillPinspot]),
		ELEntry:     NewDimmable(opts[NameELEntry]),
		ELDance:     NewDimmable(opts[NameELDance]),
		LEDForest:   NewDimmable(opts[NameLEDForest]),
		DiscoBall:   NewSwitch(opts[NameDiscoBall]),
		ACPower:     NewSwitch(opts[NameACPower]),
	}
}

// All returns every fixture in the set, for iteration when assembling a
// DataMsg.
func (s *Set) All() []Unit {
	return []Unit{s.MainPinspot, s.FillPinspot, s.ELEntry, s.ELDance, s.LEDForest, s.DiscoBall, s.ACPower}
}
