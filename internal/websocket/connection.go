package websocket

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/kollab"
	"github.com/luciancaetano/kollab/internal/envelope"
	"github.com/luciancaetano/kollab/internal/hub"
	"github.com/luciancaetano/kollab/internal/protocol"
)

// State is the lifecycle stage of a connection. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connection drives one client from handshake to release. All of its fields
// are owned by the goroutine running serveConn.
type connection struct {
	server  *Server
	conn    net.Conn
	logger  *slog.Logger
	state   State
	reader  *protocol.Reader
	session *hub.Session
	limiter *rate.Limiter

	voluntary bool
	closeSent bool
}

// closeLinger bounds how long a connection is drained after the server sent
// a close frame.
const closeLinger = time.Second

func (s *Server) serveConn(nc net.Conn) {
	c := &connection{
		server:  s,
		conn:    nc,
		logger:  s.logger.With("remote_addr", nc.RemoteAddr().String()),
		state:   StateConnecting,
		limiter: s.cfg.RateLimitConfig.newLimiter(),
	}

	if !c.handshake() || !c.join() {
		c.transition(StateClosed)
		_ = nc.Close()
		return
	}

	c.transition(StateOpen)
	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(c.session)
	}

	done := make(chan struct{})
	go c.heartbeat(done)
	c.readLoop()
	close(done)

	c.transition(StateClosing)
	c.leave()
	if c.closeSent {
		c.linger()
	}

	c.transition(StateClosed)
	_ = c.session.Close(c.session.Context())
}

func (c *connection) transition(next State) {
	if next <= c.state {
		return
	}
	c.logger.Debug("connection state", "from", c.state, "to", next)
	c.state = next
}

// handshake validates the upgrade request and answers it. On failure the
// client gets a plain HTTP error response when one is still possible.
func (c *connection) handshake() bool {
	cfg := &c.server.cfg

	if cfg.HandshakeTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}

	req, br, err := protocol.ReadRequest(c.conn)
	if err != nil {
		c.reject(err)
		return false
	}

	if cfg.Path != "" && req.URL.Path != cfg.Path {
		c.reject(&protocol.HandshakeError{Err: errors.New("no websocket endpoint at " + req.URL.Path), Status: http.StatusNotFound})
		return false
	}

	key, err := protocol.CheckUpgrade(req)
	if err != nil {
		c.reject(err)
		return false
	}

	if cfg.CheckOrigin != nil && !cfg.CheckOrigin(req) {
		c.reject(&protocol.HandshakeError{Err: errors.New("origin not allowed"), Status: http.StatusForbidden})
		return false
	}

	if err := protocol.WriteAccept(c.conn, key); err != nil {
		c.logger.Debug("handshake response failed", "err", err)
		return false
	}

	_ = c.conn.SetDeadline(time.Time{})
	c.reader = protocol.NewReader(br, cfg.MaxPayloadSize)
	return true
}

func (c *connection) reject(err error) {
	c.logger.Debug(kollab.ErrInvalidHandshake, "err", err)

	var herr *protocol.HandshakeError
	if !errors.As(err, &herr) {
		// the request never arrived in full; there is nobody to answer
		return
	}
	_ = protocol.WriteReject(c.conn, herr.Status, herr.Err.Error())
}

// join registers the session and greets it. init is written before the
// session becomes visible to broadcasts so it is always the first message.
func (c *connection) join() bool {
	srv := c.server

	c.session = hub.NewSession(c.conn, c.conn.RemoteAddr().String(), srv.registry.AssignColor(), srv.cfg.WriteTimeout)
	c.logger = c.logger.With("session_id", c.session.ID())

	greeting, err := envelopeFrame(envelope.NewInit(c.session.Color()))
	if err == nil {
		err = c.session.WriteFrame(greeting)
	}
	if err != nil {
		c.logger.Debug("sending init failed", "err", err)
		return false
	}

	if _, err := srv.registry.Join(c.session); err != nil {
		c.logger.Error("joining registry failed", "err", err)
		return false
	}

	if err := srv.router.Send(c.session, envelope.NewUsersList(userInfos(srv.registry.Snapshot()))); err != nil {
		// the read loop sees the closed connection and cleans up
		c.logger.Debug("sending users_list failed", "err", err)
	}
	c.broadcast(envelope.NewUserJoined(c.session.Username()))

	c.logger.Info("session joined", "username", c.session.Username(), "color", c.session.Color())
	return true
}

func userInfos(sessions []*hub.Session) []envelope.UserInfo {
	users := make([]envelope.UserInfo, 0, len(sessions))
	for _, s := range sessions {
		if !s.IsAlive() {
			continue
		}
		info := s.Info()
		users = append(users, envelope.UserInfo{
			Username:  info.Username,
			Color:     info.Color,
			File:      info.File,
			CursorPos: info.Cursor,
		})
	}
	return users
}

// readLoop consumes frames until the connection ends. It returns with the
// close frame, if any, already sent.
func (c *connection) readLoop() {
	for {
		if c.server.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.ReadTimeout))
		}

		f, err := c.reader.ReadFrame()
		if err != nil {
			c.readFailed(err)
			return
		}

		switch f.Opcode {
		case protocol.OpPing:
			if err := c.session.WriteFrame(protocol.EncodeFrame(protocol.OpPong, f.Payload)); err != nil {
				return
			}
			continue
		case protocol.OpPong:
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.logger.Warn(kollab.ErrRateLimited)
			c.sendClose(kollab.ClosePolicyViolation, kollab.ErrRateLimited)
			return
		}

		c.dispatch(f.Payload)
	}
}

func (c *connection) readFailed(err error) {
	switch {
	case errors.Is(err, protocol.ErrClosed):
		c.voluntary = true
		c.sendClose(kollab.CloseNormalClosure, "")
	case errors.Is(err, io.EOF):
		c.voluntary = true
	case errors.Is(err, protocol.ErrFrameTooLarge):
		c.logger.Warn(kollab.ErrMessageTooBig, "err", err)
		c.sendClose(kollab.CloseMessageTooBig, kollab.ErrMessageTooBig)
	case isProtocolViolation(err):
		c.logger.Warn(kollab.ErrProtocolError, "err", err)
		c.sendClose(kollab.CloseProtocolError, kollab.ErrProtocolError)
	case errors.Is(err, net.ErrClosed):
		// closed by the server or by a failed delivery
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.logger.Info("read timeout", "err", err)
			return
		}
		c.logger.Debug("read failed", "err", err)
	}
}

func isProtocolViolation(err error) bool {
	var ferr *protocol.FrameError
	return errors.As(err, &ferr)
}

func (c *connection) sendClose(code int, reason string) {
	if err := c.session.WriteFrame(protocol.EncodeClose(code, reason)); err == nil {
		c.closeSent = true
	}
}

// linger half-closes the connection and discards what the client still sends,
// so unread input does not turn the close into a TCP reset that loses the
// close frame.
func (c *connection) linger() {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(closeLinger))
	_, _ = io.Copy(io.Discard, c.conn)
}

// dispatch applies one client envelope. Malformed and unknown envelopes are
// dropped without touching any state.
func (c *connection) dispatch(payload []byte) {
	msg, err := envelope.Parse(payload)
	if err != nil {
		c.logger.Debug("dropping envelope", "err", err)
		return
	}

	switch m := msg.(type) {
	case envelope.Join:
		c.session.SetUsername(m.Username)
		c.logger.Info("username set", "username", m.Username)

	case envelope.ContentChange:
		c.broadcast(envelope.NewContentUpdate(m))

	case envelope.CursorMove:
		info := c.session.MoveCursor(m.Username, m.File, m.Position)
		c.broadcast(envelope.NewCursorUpdate(info.Username, info.Cursor, info.Color, info.File))

	case envelope.FileChange:
		info := c.session.SetFile(m.File)
		if c.server.cfg.BroadcastFileChange {
			c.broadcast(envelope.NewCursorUpdate(info.Username, info.Cursor, info.Color, info.File))
		}
	}
}

func (c *connection) broadcast(msg any) {
	rep, err := c.server.router.Broadcast(msg, c.session.ID())
	if err != nil {
		c.logger.Error("broadcast failed", "err", err)
		return
	}
	if rep.Failed > 0 {
		c.logger.Debug("broadcast incomplete", "delivered", rep.Delivered, "failed", rep.Failed)
	}
}

// leave announces the departure, then removes the session from the registry.
func (c *connection) leave() {
	srv := c.server
	username := c.session.Username()

	c.broadcast(envelope.NewUserLeft(username))
	srv.registry.Leave(c.session.ID())

	c.logger.Info("session left", "username", username, "voluntary", c.voluntary)
	if srv.cfg.OnClientDisconnect != nil {
		srv.cfg.OnClientDisconnect(c.session, c.voluntary)
	}
}

// heartbeat pings the client every PingInterval until done is closed or
// a write fails.
func (c *connection) heartbeat(done <-chan struct{}) {
	interval := c.server.cfg.PingInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ping := protocol.EncodeFrame(protocol.OpPing, nil)
	for {
		select {
		case <-done:
			return
		case <-c.session.Context().Done():
			return
		case <-ticker.C:
			if err := c.session.WriteFrame(ping); err != nil {
				c.logger.Debug("ping failed", "err", err)
				return
			}
		}
	}
}

func envelopeFrame(msg any) ([]byte, error) {
	data, err := envelope.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return protocol.Encode(data), nil
}
