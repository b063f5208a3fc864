// Package dmx is Pierre's persistent outbound connection to the light
// controller: dial, send, on error close and retry with backoff.
package dmx

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wisslanding/pierre/internal/fx"
	"github.com/wisslanding/pierre/internal/perr"
	"github.com/wisslanding/pierre/internal/stats"
)

// WriteTimeout bounds a single DMX write.
const WriteTimeout = 250 * time.Millisecond

const (
	minBackoff = 50 * time.Millisecond
	maxBackoff = time.Second
)

// Link is a single-in-flight send queue to the remote light controller.
// On write error the connection is closed and reconnect is retried with
// exponential backoff capped at maxBackoff.
type Link struct {
	addr  string
	stats *stats.Registry

	mu   sync.Mutex
	conn net.Conn

	queue chan fx.DataMsg
	done  chan struct{}
}

// New constructs a Link targeting host:port (dmx.host, dmx.port). Call
// Run in its own goroutine to start the send loop.
func New(host string, port int, reg *stats.Registry) *Link {
	return &Link{
		addr:  net.JoinHostPort(host, itoa(port)),
		stats: reg,
		queue: make(chan fx.DataMsg, 1), // single in-flight message
		done:  make(chan struct{}),
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Enqueue submits msg for transmission. If a message is already queued,
// it is replaced: only the most recent tick matters once backpressure
// builds.
func (l *Link) Enqueue(msg fx.DataMsg) {
	select {
	case l.queue <- msg:
	default:
		select {
		case <-l.queue:
		default:
		}
		select {
		case l.queue <- msg:
		default:
		}
		l.stats.Inc(stats.RemoteDMXQRF)
	}
}

// Run drives the connect/send/reconnect loop until ctx is canceled.
func (l *Link) Run(ctx context.Context) {
	backoff := minBackoff

	for {
		select {
		case <-ctx.Done():
			l.closeConn()
			return
		default:
		}

		if l.conn == nil {
			conn, err := net.DialTimeout("tcp", l.addr, WriteTimeout)
			if err != nil {
				l.stats.Inc(stats.RemoteDMXQSF)
				if !sleepCtx(ctx, backoff) {
					return
				}
				backoff = nextBackoff(backoff)
				continue
			}
			l.conn = conn
			backoff = minBackoff
		}

		select {
		case <-ctx.Done():
			l.closeConn()
			return
		case msg := <-l.queue:
			if err := l.send(msg); err != nil {
				l.stats.Inc(stats.RemoteDMXQSF)
				l.closeConn()
			}
		case <-time.After(WriteTimeout):
		}
	}
}

func (l *Link) send(msg fx.DataMsg) error {
	start := time.Now()

	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return err
	}

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(payload)))

	l.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))

	if _, err := l.conn.Write(lenPrefix[:]); err != nil {
		return perr.ErrIOOther
	}
	if _, err := l.conn.Write(payload); err != nil {
		return perr.ErrIOOther
	}

	l.stats.Observe(stats.RemoteElapsed, time.Since(start).Seconds())
	l.stats.Inc(stats.RemoteDMXQOK)

	return nil
}

func (l *Link) closeConn() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
