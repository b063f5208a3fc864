package fx

import (
	"time"

	"github.com/wisslanding/pierre/internal/fx/easing"
	"github.com/wisslanding/pierre/internal/fx/unit"
)

// Fader is a time-parameterized transition. Travel reports done once
// the transition has completed; a finished fader is dropped by its
// owning FX.
type Fader interface {
	Travel(now time.Time) (done bool)
}

// ColorFader eases a Pinspot's Color from a starting value to a target
// over Duration.
type ColorFader struct {
	Target   *unit.Pinspot
	From, To unit.Color
	Start    time.Time
	Duration time.Duration
	Ease     easing.Func
}

// Travel advances the fader's target color for the given instant.
func (f *ColorFader) Travel(now time.Time) bool {
	elapsed := now.Sub(f.Start)
	if elapsed >= f.Duration {
		f.Target.Color = f.To
		return true
	}

	progress := f.Ease(float64(elapsed) / float64(f.Duration))
	f.Target.Color = unit.Color{
		Red:   lerp(f.From.Red, f.To.Red, progress),
		Green: lerp(f.From.Green, f.To.Green, progress),
		Blue:  lerp(f.From.Blue, f.To.Blue, progress),
		White: lerp(f.From.White, f.To.White, progress),
	}

	return false
}

// BrightnessFader eases a Dimmable's Brightness from a starting value
// to a target over Duration.
type BrightnessFader struct {
	Target   *unit.Dimmable
	From, To uint8
	Start    time.Time
	Duration time.Duration
	Ease     easing.Func
}

// Travel advances the fader's target brightness for the given instant.
func (f *BrightnessFader) Travel(now time.Time) bool {
	elapsed := now.Sub(f.Start)
	if elapsed >= f.Duration {
		f.Target.Brightness = f.To
		return true
	}

	progress := f.Ease(float64(elapsed) / float64(f.Duration))
	f.Target.Brightness = lerp(f.From, f.To, progress)

	return false
}

func lerp(from, to uint8, progress float64) uint8 {
	v := float64(from) + (float64(to)-float64(from))*progress
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// ToBlack returns a ColorFader that eases target to black over
// duration.
func ToBlack(target *unit.Pinspot, start time.Time, duration time.Duration, ease easing.Func) *ColorFader {
	return &ColorFader{
		Target:   target,
		From:     target.Color,
		To:       unit.Color{},
		Start:    start,
		Duration: duration,
		Ease:     ease,
	}
}

// ToColor returns a ColorFader that eases target to the given color
// over duration.
func ToColor(target *unit.Pinspot, to unit.Color, start time.Time, duration time.Duration, ease easing.Func) *ColorFader {
	return &ColorFader{
		Target:   target,
		From:     target.Color,
		To:       to,
		Start:    start,
		Duration: duration,
		Ease:     ease,
	}
}
