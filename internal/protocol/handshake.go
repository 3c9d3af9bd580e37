package protocol

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
)

// websocketGUID is the fixed GUID appended to the client nonce (RFC 6455 section 1.3).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxHandshakeSize caps the opening HTTP request, request line and headers included.
const MaxHandshakeSize = 8 * 1024

// Handshake errors.
var (
	ErrMethodNotAllowed  = errors.New("upgrade request must use GET")
	ErrNotUpgrade        = errors.New("not a websocket upgrade request")
	ErrMissingKey        = errors.New("missing Sec-WebSocket-Key header")
	ErrHandshakeTooLarge = errors.New("handshake request too large")
)

// HandshakeError is a failed upgrade along with the HTTP status to answer with.
type HandshakeError struct {
	Err    error
	Status int
}

func (e *HandshakeError) Error() string {
	return e.Err.Error()
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client nonce:
// base64(SHA-1(nonce + GUID)).
func AcceptKey(nonce string) string {
	sum := sha1.Sum([]byte(nonce + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ReadRequest reads the opening HTTP request from src, reading at most
// MaxHandshakeSize bytes. The returned reader must be used for every later
// read: it may already hold the first frames the client pipelined after the
// request.
func ReadRequest(src io.Reader) (*http.Request, *bufio.Reader, error) {
	lr := &io.LimitedReader{R: src, N: MaxHandshakeSize}
	br := bufio.NewReader(lr)

	req, err := http.ReadRequest(br)
	if err != nil {
		if lr.N <= 0 {
			return nil, nil, &HandshakeError{Err: ErrHandshakeTooLarge, Status: http.StatusRequestHeaderFieldsTooLarge}
		}
		return nil, nil, fmt.Errorf("read handshake: %w", err)
	}

	// the cap only applies to the handshake
	lr.N = math.MaxInt64
	return req, br, nil
}

// CheckUpgrade validates an upgrade request and returns the client nonce.
func CheckUpgrade(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", &HandshakeError{Err: ErrMethodNotAllowed, Status: http.StatusMethodNotAllowed}
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") ||
		!headerContainsToken(r.Header, "Connection", "upgrade") {
		return "", &HandshakeError{Err: ErrNotUpgrade, Status: http.StatusBadRequest}
	}

	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return "", &HandshakeError{Err: ErrMissingKey, Status: http.StatusBadRequest}
	}
	return key, nil
}

// WriteAccept writes the 101 Switching Protocols response for nonce.
func WriteAccept(w io.Writer, nonce string) error {
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(nonce) + "\r\n\r\n"
	_, err := io.WriteString(w, resp)
	return err
}

// WriteReject writes a plain HTTP error response. The caller closes the connection afterwards.
func WriteReject(w io.Writer, status int, reason string) error {
	body := reason + "\n"
	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(body), body)
	_, err := io.WriteString(w, resp)
	return err
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
