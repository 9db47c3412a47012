package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"marketchat/internal/domain"
	"marketchat/internal/observability"
	"marketchat/internal/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const readWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades connections and runs the per-connection state machine:
// UNREGISTERED -> REGISTERED -> CLOSED. The first inbound frame must be a
// bare identity token ("user_42", "seller_7"); everything after that is a
// structured frame handled by the Gateway.
type Handler struct {
	gateway *Gateway
}

func NewHandler(g *Gateway) *Handler {
	return &Handler{gateway: g}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observability.GetLogger(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("upgrade error", zap.Error(err))
		return
	}

	go h.serve(conn)
}

func (h *Handler) serve(conn *websocket.Conn) {
	ctx := context.Background()
	log := observability.GetLogger(ctx)

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	// UNREGISTERED: the connection is unreachable until it identifies itself.
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	identity := strings.TrimSpace(string(raw))
	if _, _, ok := domain.ParseIdentity(identity); !ok {
		log.Warn("gateway: rejecting connection with invalid identity token", zap.String("token", identity))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid identity"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	session := ws.NewSession(uuid.NewString(), identity, conn)
	h.gateway.Register(ctx, session)
	session.Start()

	log.Info("connected", zap.String("identity", identity))
	observability.WebSocketConnectionsActive.WithLabelValues("delivery").Inc()

	h.readLoop(ctx, session)
}

func (h *Handler) readLoop(ctx context.Context, s *ws.Session) {
	log := observability.GetLogger(ctx)

	defer func() {
		h.gateway.Unregister(ctx, s)
		s.Close()
		log.Info("disconnected", zap.String("identity", s.Identity))
		observability.WebSocketConnectionsActive.WithLabelValues("delivery").Dec()
	}()

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("read loop error", zap.String("identity", s.Identity), zap.Error(err))
			}
			return
		}
		s.Conn.SetReadDeadline(time.Now().Add(readWait))
		h.gateway.HandleFrame(ctx, s, raw)
	}
}
