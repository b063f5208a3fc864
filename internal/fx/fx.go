// Package fx maps DSP peaks onto fixture state and assembles the
// per-tick DataMsg shipped to the remote light controller. An active FX
// is one of {MajorPeak, Leave, Silence, AllStop} with transitions
// driven by the Controller.
package fx

import (
	"time"

	"github.com/wisslanding/pierre/internal/dsp"
	"github.com/wisslanding/pierre/internal/fx/easing"
	"github.com/wisslanding/pierre/internal/fx/unit"
)

// Name identifies the active FX strategy.
type Name int

const (
	NameMajorPeak Name = iota
	NameLeave
	NameSilence
	NameAllStop
)

func (n Name) String() string {
	switch n {
	case NameMajorPeak:
		return "MajorPeak"
	case NameLeave:
		return "Leave"
	case NameSilence:
		return "Silence"
	case NameAllStop:
		return "AllStop"
	default:
		return "Unknown"
	}
}

// FX is the single trait every strategy implements: Once fires on
// entry, Execute runs every tick.
type FX interface {
	Name() Name
	Once(now time.Time, set *unit.Set)
	Execute(now time.Time, set *unit.Set, peaks dsp.Peaks)
}

// Config bounds MajorPeak's magnitude filter and the silence timeouts
// (fx.majorpeak.magnitudes.*, fx.majorpeak.silence_timeout).
type Config struct {
	Magnitudes      dsp.Config
	SilenceTimeout  time.Duration
	SilenceTimeout2 time.Duration // Leave -> Silence escalation
}

// DefaultConfig leaves the lights on through 10s of silence before
// starting to wind down.
func DefaultConfig() Config {
	return Config{
		Magnitudes:      dsp.DefaultConfig(),
		SilenceTimeout:  10 * time.Second,
		SilenceTimeout2: 20 * time.Second,
	}
}

// Controller owns the fixture Set and the active FX, and runs the
// transitions between strategies: first frame after SETUP -> MajorPeak
// once+execute; silence for SilenceTimeout -> Leave; a further timeout
// -> Silence; session end -> AllStop.
type Controller struct {
	cfg    Config
	set    *unit.Set
	active FX

	lastSound time.Time
	started   bool
}

// NewController constructs a Controller over the given fixture set.
func NewController(cfg Config, set *unit.Set) *Controller {
	return &Controller{cfg: cfg, set: set, active: &MajorPeak{cfg: cfg.Magnitudes}}
}

// Tick runs one render-loop iteration: applies FX transitions based on
// elapsed silence, then executes the active FX against peaks and
// returns the assembled DataMsg.
func (c *Controller) Tick(now time.Time, peaks dsp.Peaks, silent bool) DataMsg {
	if !c.started {
		c.lastSound = now
		c.started = true
		c.active.Once(now, c.set)
	}

	if !silent && hasAnyPeak(peaks) {
		c.lastSound = now
		c.transitionTo(NameMajorPeak, now)
	} else {
		since := now.Sub(c.lastSound)
		switch {
		case since >= c.cfg.SilenceTimeout2:
			c.transitionTo(NameSilence, now)
		case since >= c.cfg.SilenceTimeout:
			c.transitionTo(NameLeave, now)
		}
	}

	c.active.Execute(now, c.set, peaks)

	return AssembleDataMsg(now, c.set)
}

// Stop transitions to AllStop and executes it once so the final DataMsg
// zeroes every fixture.
func (c *Controller) Stop(now time.Time) DataMsg {
	c.transitionTo(NameAllStop, now)
	c.active.Execute(now, c.set, dsp.Peaks{})
	return AssembleDataMsg(now, c.set)
}

func (c *Controller) transitionTo(name Name, now time.Time) {
	if c.active.Name() == name {
		return
	}

	switch name {
	case NameMajorPeak:
		c.active = &MajorPeak{cfg: c.cfg.Magnitudes}
	case NameLeave:
		c.active = &Leave{}
	case NameSilence:
		c.active = &Silence{}
	case NameAllStop:
		c.active = &AllStop{}
	}

	c.active.Once(now, c.set)
}

func hasAnyPeak(p dsp.Peaks) bool {
	for _, ch := range p.Channels {
		if len(ch) > 0 {
			return true
		}
	}
	return false
}

// MajorPeak drives fixtures from the single loudest peak across both
// channels whose magnitude lies within its configured floor/ceiling:
// pinspots take hue from its frequency and brightness from its
// magnitude, and EL wire and LED forest brightness follow the same
// magnitude.
type MajorPeak struct {
	cfg    dsp.Config
	faders []Fader
}

func (m *MajorPeak) Name() Name { return NameMajorPeak }

func (m *MajorPeak) Once(now time.Time, set *unit.Set) {
	set.ACPower.On = true
}

func (m *MajorPeak) Execute(now time.Time, set *unit.Set, peaks dsp.Peaks) {
	remaining := m.faders[:0]
	for _, f := range m.faders {
		if !f.Travel(now) {
			remaining = append(remaining, f)
		}
	}
	m.faders = remaining

	loudest, freq := loudestPeak(peaks, m.cfg)
	if loudest == 0 {
		return
	}

	color := colorFromFrequency(freq, loudest)
	set.MainPinspot.Color = color
	set.FillPinspot.Color = dim(color, 0.5)

	brightness := brightnessFromMagnitude(loudest)
	set.ELEntry.Brightness = brightness
	set.ELDance.Brightness = brightness
	set.LEDForest.Brightness = brightness
}

func loudestPeak(p dsp.Peaks, cfg dsp.Config) (magnitude, frequency float64) {
	for _, ch := range p.Channels {
		for _, pk := range ch {
			if pk.Magnitude < cfg.Floor || pk.Magnitude > cfg.Ceiling {
				continue
			}
			if pk.Magnitude > magnitude {
				magnitude = pk.Magnitude
				frequency = pk.Frequency
			}
		}
	}
	return magnitude, frequency
}

// colorFromFrequency maps an audible frequency onto a simple hue ramp;
// low frequencies read red, high frequencies read blue.
func colorFromFrequency(freq, magnitude float64) unit.Color {
	const maxAudible = 8000.0
	t := freq / maxAudible
	if t > 1 {
		t = 1
	}

	scale := brightnessFromMagnitude(magnitude)

	return unit.Color{
		Red:   scaleU8(uint8(255*(1-t)), scale),
		Green: scaleU8(uint8(255*(1-absDiff(t, 0.5)*2)), scale),
		Blue:  scaleU8(uint8(255*t), scale),
	}
}

func scaleU8(v, scale uint8) uint8 {
	return uint8(uint16(v) * uint16(scale) / 255)
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func dim(c unit.Color, factor float64) unit.Color {
	return unit.Color{
		Red:   uint8(float64(c.Red) * factor),
		Green: uint8(float64(c.Green) * factor),
		Blue:  uint8(float64(c.Blue) * factor),
		White: uint8(float64(c.White) * factor),
	}
}

func brightnessFromMagnitude(magnitude float64) uint8 {
	const ceiling = 32.0
	v := magnitude / ceiling * 255
	if v > 255 {
		v = 255
	}
	if v < 0 {
		v = 0
	}
	return uint8(v)
}

// Leave fades fixtures toward black gently, entered after
// SilenceTimeout of no peaks.
type Leave struct {
	faders []Fader
}

func (l *Leave) Name() Name { return NameLeave }

func (l *Leave) Once(now time.Time, set *unit.Set) {
	l.faders = []Fader{
		ToBlack(set.MainPinspot, now, 4*time.Second, easing.OutSine),
		ToBlack(set.FillPinspot, now, 4*time.Second, easing.OutSine),
	}
}

func (l *Leave) Execute(now time.Time, set *unit.Set, peaks dsp.Peaks) {
	remaining := l.faders[:0]
	for _, f := range l.faders {
		if !f.Travel(now) {
			remaining = append(remaining, f)
		}
	}
	l.faders = remaining

	set.ELEntry.Brightness = fadeDown(set.ELEntry.Brightness)
	set.ELDance.Brightness = fadeDown(set.ELDance.Brightness)
	set.LEDForest.Brightness = fadeDown(set.LEDForest.Brightness)
}

func fadeDown(v uint8) uint8 {
	if v == 0 {
		return 0
	}
	return v - v/8 - 1
}

// Silence fully blacks out everything except AC power, entered after a
// second, longer timeout.
type Silence struct{}

func (s *Silence) Name() Name { return NameSilence }

func (s *Silence) Once(now time.Time, set *unit.Set) {
	set.MainPinspot.Color = unit.Color{}
	set.FillPinspot.Color = unit.Color{}
	set.ELEntry.Brightness = 0
	set.ELDance.Brightness = 0
	set.LEDForest.Brightness = 0
	set.DiscoBall.On = false
}

func (s *Silence) Execute(now time.Time, set *unit.Set, peaks dsp.Peaks) {}

// AllStop zeroes every fixture including AC power, entered on session
// end.
type AllStop struct{}

func (a *AllStop) Name() Name { return NameAllStop }

func (a *AllStop) Once(now time.Time, set *unit.Set) {
	set.MainPinspot.Color = unit.Color{}
	set.FillPinspot.Color = unit.Color{}
	set.ELEntry.Brightness = 0
	set.ELDance.Brightness = 0
	set.LEDForest.Brightness = 0
	set.DiscoBall.On = false
	set.ACPower.On = false
}

func (a *AllStop) Execute(now time.Time, set *unit.Set, peaks dsp.Peaks) {}
