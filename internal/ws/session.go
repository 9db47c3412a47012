package ws

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"marketchat/internal/domain"
	"marketchat/internal/observability"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	SendQueueSize = 128
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
)

// Session is one live connection for one participant identity.
type Session struct {
	ID       string
	Identity string

	Conn      *websocket.Conn
	SendQueue chan []byte
	done      chan struct{}
	closed    atomic.Int32
}

func NewSession(id, identity string, conn *websocket.Conn) *Session {
	return &Session{
		ID:        id,
		Identity:  identity,
		Conn:      conn,
		SendQueue: make(chan []byte, SendQueueSize),
		done:      make(chan struct{}),
	}
}

func (s *Session) Start() {
	go s.writeLoop()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SendFrame marshals an outbound frame and queues it for delivery.
// Best-effort, at-most-once: a false return means the frame was not queued.
func (s *Session) SendFrame(frame domain.OutboundFrame) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		observability.Log.Error("session: marshal frame", zap.String("identity", s.Identity), zap.Error(err))
		return false
	}
	return s.TrySend(payload)
}

func (s *Session) TrySend(msg []byte) bool {
	if s.closed.Load() == 1 {
		return false
	}
	select {
	case s.SendQueue <- msg:
		return true
	default:
		observability.Log.Warn("session: backpressure overflow, dropping connection",
			zap.String("identity", s.Identity))
		s.CloseWithReason(websocket.CloseInternalServerErr, "backpressure overflow")
		return false
	}
}

func (s *Session) Close() {
	s.CloseWithReason(websocket.CloseNormalClosure, "server closing")
}

func (s *Session) CloseWithReason(code int, reason string) {
	if !s.closed.CompareAndSwap(0, 1) {
		return
	}

	observability.Log.Info("session: closing",
		zap.String("identity", s.Identity), zap.Int("code", code), zap.String("reason", reason))
	close(s.done)

	if s.Conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = s.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		s.Conn.Close()
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case msg, ok := <-s.SendQueue:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				observability.Log.Error("session: write error", zap.String("identity", s.Identity), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				observability.Log.Error("session: ping error", zap.String("identity", s.Identity), zap.Error(err))
				return
			}
		case <-s.done:
			return
		}
	}
}
