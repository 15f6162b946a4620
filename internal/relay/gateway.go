package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"log/slog"
	"nhooyr.io/websocket"

	"chatrelay/internal/store"
	"chatrelay/pkg/devicetoken"
	"chatrelay/pkg/metrics"
)

// Gateway is the thin adapter between the duplex transport and the core:
// it accepts connections, decodes inbound envelopes and dispatches them
// through a handler table. One read loop per connection means handlers
// for a connection never overlap.
type Gateway struct {
	log      *slog.Logger
	registry *Registry
	coord    *Coordinator
	tokens   *devicetoken.Codec

	handlers map[string]func(ctx context.Context, conn *Conn, payload json.RawMessage) error
}

func NewGateway(log *slog.Logger, reg *Registry, coord *Coordinator, tokens *devicetoken.Codec) *Gateway {
	g := &Gateway{log: log, registry: reg, coord: coord, tokens: tokens}
	g.handlers = map[string]func(ctx context.Context, conn *Conn, payload json.RawMessage) error{
		evCreateRoom:  g.handleCreateRoom,
		evJoinRoom:    g.handleJoinRoom,
		evSendMessage: g.handleSendMessage,
	}
	return g
}

// ServeWS handles a new /ws connection for its whole lifetime
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := Accept(w, r)
	if err != nil {
		g.log.Error("ws.accept", "err", err)
		return
	}

	ctx := r.Context()
	conn := NewConn(ws, r.RemoteAddr)

	// same physical origin already active: reject before identity is known
	if err := g.registry.RegisterAddress(conn.Addr(), conn); err != nil {
		_ = conn.SendNow(ctx, evError, errorPayload{Message: err.Error()})
		conn.Close(websocket.StatusPolicyViolation, "duplicate address")
		return
	}
	metrics.Connections.Inc()
	metrics.ActiveConnections.Inc()

	go conn.WriteLoop(ctx)
	g.greet(ctx, conn)

	for {
		data, ok := conn.Read(ctx)
		if !ok {
			break
		}
		g.dispatch(ctx, conn, data)
	}

	g.coord.HandleDisconnect(conn)
	conn.Close(websocket.StatusNormalClosure, "bye")
	metrics.ActiveConnections.Dec()
	g.log.Debug("conn.closed", "addr", conn.Addr())
}

// dispatch routes one inbound frame; anything the handler rejects goes
// back to the sender as an error event and never touches room state.
func (g *Gateway) dispatch(ctx context.Context, conn *Conn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		conn.Send(evError, errorPayload{Message: "malformed event"})
		return
	}
	h, ok := g.handlers[env.Event]
	if !ok {
		conn.Send(evError, errorPayload{Message: "unknown event: " + env.Event})
		return
	}
	if err := h(ctx, conn, env.Payload); err != nil {
		conn.Send(evError, errorPayload{Message: clientMessage(err)})
	}
}

func (g *Gateway) handleCreateRoom(ctx context.Context, conn *Conn, payload json.RawMessage) error {
	var req createRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return ErrValidation
	}
	max, err := req.MaxClients.Int64()
	if err != nil {
		return ErrValidation
	}
	creator := req.UserID
	if creator == "" {
		creator = conn.UserID()
	}
	room, err := g.coord.CreateRoom(ctx, int(max), creator)
	if err != nil {
		return err
	}
	conn.Send(evRoomCreated, roomCreatedPayload{PIN: room.PIN})
	return nil
}

func (g *Gateway) handleJoinRoom(ctx context.Context, conn *Conn, payload json.RawMessage) error {
	var req joinRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return ErrValidation
	}
	if req.DeviceToken != "" {
		deviceID, err := g.tokens.Verify(req.DeviceToken)
		if err != nil {
			return ErrValidation
		}
		req.DeviceID = deviceID
	}
	return g.coord.JoinRoom(ctx, req.PIN, req.UserID, req.DeviceID, conn)
}

func (g *Gateway) handleSendMessage(ctx context.Context, conn *Conn, payload json.RawMessage) error {
	var req sendMessagePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return ErrValidation
	}
	return g.coord.SendMessage(ctx, req.PIN, req.UserID, req.Message, conn)
}

// greet tells the client how the server sees it, name resolved best-effort
func (g *Gateway) greet(ctx context.Context, conn *Conn) {
	host, _, err := net.SplitHostPort(conn.Addr())
	if err != nil {
		host = conn.Addr()
	}
	name := host
	lookupCtx, cancel := context.WithTimeout(ctx, time.Second)
	if names, err := net.DefaultResolver.LookupAddr(lookupCtx, host); err == nil && len(names) > 0 {
		name = names[0]
	}
	cancel()
	conn.Send(evHostInfo, hostInfoPayload{Host: name, IP: host})
}

// clientMessage keeps storage detail out of what clients see
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrRoomFull),
		errors.Is(err, ErrNotInRoom),
		errors.Is(err, ErrDuplicateAddress),
		errors.Is(err, ErrValidation),
		errors.Is(err, store.ErrBadCapacity),
		errors.Is(err, store.ErrOwnerRoomLimit):
		return err.Error()
	}
	return "internal error"
}
