// Package ptp is the thin boundary around the external PTP peer
// library Pierre slaves its clock to. The PTP wire protocol itself
// lives in that library; here is only the sampling surface, the same
// external-library-as-interface shape as the alac and fairplay
// packages.
package ptp

import (
	"context"
	"time"

	"github.com/wisslanding/pierre/internal/anchor"
)

// Source is what a real PTP binding implements: a single sample of the
// current master clock state.
type Source interface {
	Sample(now time.Time) (anchor.ClockInfo, error)
}

// Poller periodically samples Source and publishes the result to a
// ClockPeer, the process-wide single clock source.
type Poller struct {
	source   Source
	clock    *anchor.ClockPeer
	interval time.Duration
}

// NewPoller constructs a Poller. interval should be comfortably under
// the clock freshness window so Snapshot readers never see a
// falsely-stale clock between polls.
func NewPoller(source Source, clock *anchor.ClockPeer, interval time.Duration) *Poller {
	return &Poller{source: source, clock: clock, interval: interval}
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if info, err := p.source.Sample(now); err == nil {
				p.clock.Update(info)
			}
		}
	}
}

// NullSource never reports a master: every Sample returns a zero
// ClockInfo, so ClockInfo.Fresh is always false until a real PTP
// binding is wired in. Used as the default when no binding is
// configured, the clock-side counterpart of alac.SilentDecoder.
type NullSource struct{}

func (NullSource) Sample(now time.Time) (anchor.ClockInfo, error) {
	return anchor.ClockInfo{}, nil
}
