package rtsp

import (
	"bufio"
	"net"
	"time"
)

// IdleTimeout bounds how long a connection may sit without a request
// before Pierre closes it. Overridable at startup from
// rtsp.idle_timeout_secs.
var IdleTimeout = 30 * time.Second

// Serve reads and dispatches requests from conn until the peer closes,
// the idle timeout fires, or a request fails to parse; a parse failure
// is answered with 400 before the connection closes. conn is
// exclusively owned by this call for its lifetime.
func Serve(conn net.Conn, s *Session) {
	defer conn.Close()

	br := bufio.NewReader(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(IdleTimeout))

		req, err := readRequest(br)
		if err != nil {
			resp := Plain("", BadRequest)
			resp.WriteTo(conn)
			return
		}

		resp := s.Handle(req)
		if _, err := resp.WriteTo(conn); err != nil {
			return
		}
	}
}
