package hub

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/luciancaetano/kollab/internal/envelope"
	"github.com/luciancaetano/kollab/internal/protocol"
)

// Report counts the outcome of one broadcast.
type Report struct {
	Delivered int
	Failed    int
}

// Router fans messages out to the sessions of a registry.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, logger: logger}
}

// Broadcast serializes msg once and delivers it to every live session except
// the one whose handle is exclude. Pass "" to reach everyone.
func (r *Router) Broadcast(msg any, exclude string) (Report, error) {
	frame, err := encode(msg)
	if err != nil {
		return Report{}, err
	}
	return r.BroadcastFrame(frame, exclude), nil
}

// BroadcastFrame delivers an encoded frame to every live session except exclude.
//
// Deliveries run one after another on the caller's goroutine, which keeps a
// sender's messages in order for every recipient. Each delivery holds only
// the recipient's lock and is bounded by its write deadline. A failed delivery
// is counted and skipped; the recipient's handler cleans it up.
func (r *Router) BroadcastFrame(frame []byte, exclude string) Report {
	var rep Report
	for _, s := range r.registry.Snapshot() {
		if s.ID() == exclude || !s.IsAlive() {
			continue
		}

		if err := s.Deliver(frame); err != nil {
			if errors.Is(err, ErrNotAlive) || errors.Is(err, ErrSessionClosed) {
				// left between the snapshot and the delivery
				continue
			}
			rep.Failed++
			r.logger.Debug("broadcast delivery failed", "session_id", s.ID(), "err", err)
			continue
		}
		rep.Delivered++
	}
	return rep
}

// Send serializes msg and delivers it to a single session.
func (r *Router) Send(s *Session, msg any) error {
	frame, err := encode(msg)
	if err != nil {
		return err
	}
	return s.Deliver(frame)
}

func encode(msg any) ([]byte, error) {
	data, err := envelope.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	return protocol.Encode(data), nil
}
