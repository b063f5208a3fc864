// Package rtsp implements Pierre's RTSP session: an RTSP/1.0-style
// request parser, a method+path dispatch table, the
// pairing/setup/record/flush/teardown state machine, and reply framing.
package rtsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wisslanding/pierre/internal/perr"
)

// RespCode is an RTSP reply status code.
type RespCode int

const (
	Continue            RespCode = 100
	OK                  RespCode = 200
	BadRequest          RespCode = 400
	Unauthorized        RespCode = 403
	AuthRequired        RespCode = 470
	Unavailable         RespCode = 451
	InternalServerError RespCode = 500
	NotImplemented      RespCode = 501
)

var reasons = map[RespCode]string{
	Continue:            "Continue",
	OK:                  "OK",
	BadRequest:          "Bad Request",
	Unauthorized:        "Unauthorized",
	AuthRequired:        "Auth Required",
	Unavailable:         "Unavailable",
	InternalServerError: "Internal Server Error",
	NotImplemented:      "Not Implemented",
}

func (c RespCode) Reason() string {
	if r, ok := reasons[c]; ok {
		return r
	}
	return "Unknown"
}

// Request is a parsed RTSP/1.0-style message: request line, an
// HTTP-like header block, and an optional body sized by Content-Length.
type Request struct {
	Method  string
	Path    string
	CSeq    string
	Headers map[string]string
	Body    []byte
}

// Header looks up a header case-insensitively, returning "" if absent.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// ParseRequest reads one RTSP request from r: a request line, headers
// terminated by a blank line, and a body of exactly Content-Length
// bytes if present. Returns perr.ErrParseFailure on any malformed
// input; the caller replies 400 and closes the connection.
func ParseRequest(r io.Reader) (*Request, error) {
	return readRequest(bufio.NewReader(r))
}

// readRequest parses from an existing buffered reader. The connection
// loop owns one reader for the connection's lifetime so pipelined bytes
// buffered past the current request are not lost between requests.
func readRequest(br *bufio.Reader) (*Request, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, perr.ErrParseFailure
	}

	parts := strings.Fields(line)
	if len(parts) < 2 {
		return nil, perr.ErrParseFailure
	}

	req := &Request{Method: parts[0], Path: parts[1], Headers: make(map[string]string)}

	for {
		hline, err := readLine(br)
		if err != nil {
			return nil, perr.ErrParseFailure
		}
		if hline == "" {
			break
		}

		key, val, ok := strings.Cut(hline, ":")
		if !ok {
			return nil, perr.ErrParseFailure
		}
		req.Headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}

	req.CSeq = req.Header("cseq")

	if cl := req.Header("content-length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, perr.ErrParseFailure
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, perr.ErrParseFailure
		}
		req.Body = body
	}

	return req, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Content types used for reply bodies: opaque pairing blobs, Apple
// binary property lists, and text parameter blocks.
const (
	ContentTypeOctetStream = "application/octet-stream"
	ContentTypeBinaryPlist = "application/x-apple-binary-plist"
	ContentTypeParameters  = "text/parameters"
)

// Response is an RTSP reply: status line, headers (CSeq echoed, Server,
// optional Content-Type/Content-Length), blank line, body.
type Response struct {
	Code        RespCode
	CSeq        string
	ContentType string
	Body        []byte
}

// WriteTo serializes the response onto w.
func (resp *Response) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "RTSP/1.0 %d %s\r\n", resp.Code, resp.Code.Reason())
	if resp.CSeq != "" {
		fmt.Fprintf(&buf, "CSeq: %s\r\n", resp.CSeq)
	}
	fmt.Fprintf(&buf, "Server: Pierre\r\n")
	if resp.ContentType != "" {
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", resp.ContentType)
	}
	if len(resp.Body) > 0 {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(resp.Body))
	}
	buf.WriteString("\r\n")
	buf.Write(resp.Body)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Plain builds a body-less reply with the given code, CSeq echoed.
func Plain(cseq string, code RespCode) *Response {
	return &Response{Code: code, CSeq: cseq}
}

// WithPlist builds a reply whose body is a binary-plist-encoded dict.
func WithPlist(cseq string, code RespCode, body []byte) *Response {
	return &Response{Code: code, CSeq: cseq, ContentType: ContentTypeBinaryPlist, Body: body}
}

// WithOctetStream builds a reply whose body is opaque bytes (e.g. a
// pair-setup/pair-verify response).
func WithOctetStream(cseq string, code RespCode, body []byte) *Response {
	return &Response{Code: code, CSeq: cseq, ContentType: ContentTypeOctetStream, Body: body}
}
