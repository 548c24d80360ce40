package bridge

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/device"
)

// link is the live transport of a Connected session.
type link struct {
	client device.Client
	notify device.Characteristic
	write  device.Characteristic // nil when the peer has no actuator endpoint
}

// session holds the lifecycle of one slot. All fields except the counters are
// owned by the coordinator loop.
//
// peer is set iff state != Idle; link is set iff state == Connected.
// gen increases on every transition into and out of Connecting/Connected so
// that late results and notifications from an earlier attempt can be recognized.
type session struct {
	slot    Slot
	pattern string
	logger  *logrus.Entry

	state  State
	peer   device.Peer
	link   *link
	gen    uint64
	cancel context.CancelFunc

	frames    atomic.Uint64
	malformed atomic.Uint64
	attempts  atomic.Uint64
}

func newSession(slot Slot, pattern string, logger *logrus.Logger) *session {
	return &session{
		slot:    slot,
		pattern: pattern,
		logger: logger.WithFields(logrus.Fields{
			"slot":   slot,
			"target": pattern,
		}),
	}
}

// matches reports whether an advertised name selects this session.
func (s *session) matches(name string) bool {
	return s.state == Idle && name != "" && strings.Contains(name, s.pattern)
}

func (s *session) beginConnect(peer device.Peer, cancel context.CancelFunc) uint64 {
	s.gen++
	s.state = Connecting
	s.peer = peer
	s.cancel = cancel
	s.attempts.Add(1)
	return s.gen
}

// complete promotes a Connecting session. It refuses results that do not
// belong to the current attempt.
func (s *session) complete(gen uint64, l *link) bool {
	if s.state != Connecting || s.gen != gen {
		return false
	}
	s.state = Connected
	s.link = l
	// the attempt context only bounds setup
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return true
}

// reset forces the session to Idle, aborting an in-flight attempt. It returns
// the link the session held, if any, so the caller can decide whether to close it.
func (s *session) reset() *link {
	l := s.link
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	s.state = Idle
	s.peer = nil
	s.link = nil
	s.cancel = nil
	return l
}

func (s *session) current(gen uint64) bool {
	return s.state != Idle && s.gen == gen
}

func (s *session) status() SlotStatus {
	st := SlotStatus{
		Slot:       s.slot,
		Connected:  s.state == Connected,
		Connecting: s.state == Connecting,
		TargetName: s.pattern,
	}
	if s.peer != nil {
		st.PeerName = s.peer.Name()
		st.Address = s.peer.Address()
	}
	return st
}

func (s *session) stats() SlotStats {
	return SlotStats{
		Frames:          s.frames.Load(),
		Malformed:       s.malformed.Load(),
		ConnectAttempts: s.attempts.Load(),
	}
}
