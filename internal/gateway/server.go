package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/auth"
	"github.com/hearthline/core/internal/decode"
	"github.com/hearthline/core/internal/ids"
	"github.com/hearthline/core/internal/logging"
	"github.com/hearthline/core/internal/pubsub"
)

// VoiceHandler is the narrow slice of internal/voice's Manager the
// gateway needs once a client holds a session id from POST /voice/join
// (spec §4.7 step 3): applying the client's SDP answer, trickling ICE
// in both directions, an explicit leave, and stats ingest. Defined here
// rather than imported concretely so internal/gateway never depends on
// internal/voice, matching the CallStore pattern in auth.go.
type VoiceHandler interface {
	Answer(ctx context.Context, channelID, userID, sessionID, sdp string) error
	Trickle(ctx context.Context, channelID, userID, sessionID string, candidate json.RawMessage) error
	Leave(ctx context.Context, channelID, userID string) error
	Stats(ctx context.Context, channelID, userID string, stats VoiceStatsPayload) error
}

// CallHandler is the narrow slice of internal/call's Manager the gateway
// dispatches the four call-control frames to (spec §4.8).
type CallHandler interface {
	Start(ctx context.Context, channelID, userID string) error
	Accept(ctx context.Context, channelID, userID string) error
	Decline(ctx context.Context, channelID, userID string) error
	Leave(ctx context.Context, channelID, userID string) error
}

// authHandshakeTimeout matches spec §5: "auth handshake 10s".
const authHandshakeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the connection Manager, scope Authorizer, bus Bridge and
// token Issuer into the gin upgrade handler that drives spec §4.6's
// state machine end to end. Grounded on the teacher's ws_server.go
// (gin.Context upgrade, then a blocking read loop dispatching each
// frame to a handler), generalized from the teacher's protobuf frame
// dispatch table to a plain type-switch over the JSON envelope's "type"
// field.
type Server struct {
	manager    *Manager
	authorizer *Authorizer
	bridge     *Bridge
	bus        *pubsub.Bus
	issuer     *auth.Issuer
	snowflake  *ids.Snowflake
	typing     *TypingTracker
	voice      VoiceHandler
	call       CallHandler
}

// SetVoiceHandler wires the voice signaling component in after
// construction, since internal/voice's Manager itself takes a Publisher
// built from this Server (see internal/voice's NewManager) — the two
// packages tie the knot in cmd/hearthline's wiring, not in either
// constructor.
func (s *Server) SetVoiceHandler(v VoiceHandler) { s.voice = v }

// SetCallHandler wires the call-control component in after
// construction, for the same reason as SetVoiceHandler.
func (s *Server) SetCallHandler(c CallHandler) { s.call = c }

func NewServer(manager *Manager, authorizer *Authorizer, bridge *Bridge, bus *pubsub.Bus, issuer *auth.Issuer, snowflake *ids.Snowflake) *Server {
	s := &Server{
		manager:    manager,
		authorizer: authorizer,
		bridge:     bridge,
		bus:        bus,
		issuer:     issuer,
		snowflake:  snowflake,
	}
	s.typing = NewTypingTracker(s.emitTypingStop)
	return s
}

// HandleWS upgrades the request and drives the connection until it
// closes, mirroring the teacher's HandleWS: upgrade, then a blocking
// read loop with a dedicated write pump goroutine started in
// Manager.Register.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Debugf("gateway: upgrade failed: %v", err)
		return
	}

	connID := s.snowflake.GenerateString()
	conn := s.manager.Register(connID, ws)

	ws.SetPongHandler(func(string) error {
		conn.Heartbeat()
		return nil
	})

	if !s.awaitAuth(conn, ws) {
		conn.Close(CloseAuthFailed, "auth failed")
		return
	}
	s.manager.BindUser(conn)

	s.readLoop(conn, ws)

	s.manager.Remove(conn)
	for _, scope := range conn.Scopes() {
		s.bridge.Release(scope)
	}
	conn.Close(websocket.CloseNormalClosure, "closed")
}

// awaitAuth blocks for at most authHandshakeTimeout waiting for either a
// bearer token in the upgrade request or a first {"type":"auth"} frame
// (spec §6).
func (s *Server) awaitAuth(conn *Conn, ws *websocket.Conn) bool {
	if tok := bearerToken(ws); tok != "" {
		return s.authenticate(conn, tok, "")
	}

	_ = ws.SetReadDeadline(time.Now().Add(authHandshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return false
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != string(EventAuth) {
		return false
	}
	payload, err := decode.Struct[AuthPayload](rawToMap(env.Payload))
	if err != nil {
		return false
	}
	return s.authenticate(conn, payload.Token, payload.DeviceID)
}

func (s *Server) authenticate(conn *Conn, token, deviceID string) bool {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return false
	}
	if deviceID == "" {
		deviceID = claims.DeviceID
	}
	conn.Authenticate(claims.UserID, deviceID)
	conn.SetElevated(claims.Elevated)
	conn.Heartbeat()
	return true
}

// bearerToken is a placeholder extraction point for an upgrade-header
// bearer token; gorilla/websocket does not expose the original
// *http.Request headers once upgraded, so the gin handler must forward
// it before calling HandleWS. Left unimplemented (returns "") since
// header-based auth needs the pre-upgrade *http.Request, provided
// instead via the first-frame path in the common case.
func bearerToken(ws *websocket.Conn) string { return "" }

func rawToMap(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

func (s *Server) readLoop(conn *Conn, ws *websocket.Conn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			logging.Debugf("gateway: conn=%s read loop ended: %v", conn.ConnID, err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(conn, "protocol_error", "malformed envelope")
			continue
		}

		switch EventType(env.Type) {
		case EventPing:
			conn.Heartbeat()
			s.send(conn, EventPong, nil)

		case EventSubscribe:
			s.handleSubscribe(conn, env.Payload)

		case EventUnsubscribe:
			s.handleUnsubscribe(conn, env.Payload)

		case EventTypingStart:
			s.handleTypingStart(conn, env.Payload)

		case EventTypingStop:
			s.handleTypingStop(conn, env.Payload)

		case EventVoiceAnswer:
			s.handleVoiceAnswer(conn, env.Payload)

		case EventVoiceICECandidate:
			s.handleVoiceTrickle(conn, env.Payload)

		case EventVoiceLeave:
			s.handleVoiceLeave(conn, env.Payload)

		case EventVoiceStats:
			s.handleVoiceStats(conn, env.Payload)

		case EventCallStart:
			s.handleCallStart(conn, env.Payload)

		case EventCallAccept:
			s.handleCallAccept(conn, env.Payload)

		case EventCallDecline:
			s.handleCallDecline(conn, env.Payload)

		case EventCallHangup:
			s.handleCallHangup(conn, env.Payload)

		default:
			s.sendError(conn, "protocol_error", "unknown frame type")
		}
	}
}

func (s *Server) handleSubscribe(conn *Conn, raw json.RawMessage) {
	payload, err := decode.Struct[SubscribePayload](rawToMap(raw))
	if err != nil || payload.ScopeKey == "" {
		s.sendError(conn, "protocol_error", "invalid subscribe payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := s.authorizer.CanSubscribe(ctx, conn.UserID, payload.ScopeKey)
	if err != nil {
		s.sendError(conn, "internal", "subscription check failed")
		return
	}
	if !ok {
		s.sendError(conn, "unauthorized_subscription", "not permitted to subscribe to this scope")
		return
	}

	if conn.HasScope(payload.ScopeKey) {
		return // spec §8: subscribe;unsubscribe;subscribe leaves exactly one subscription — idempotent re-subscribe is a no-op
	}
	s.manager.Subscribe(conn, payload.ScopeKey)
	s.bridge.Acquire(ctx, payload.ScopeKey)
}

func (s *Server) handleUnsubscribe(conn *Conn, raw json.RawMessage) {
	payload, err := decode.Struct[SubscribePayload](rawToMap(raw))
	if err != nil || payload.ScopeKey == "" {
		s.sendError(conn, "protocol_error", "invalid unsubscribe payload")
		return
	}
	if !conn.HasScope(payload.ScopeKey) {
		return
	}
	s.manager.Unsubscribe(conn, payload.ScopeKey)
	s.bridge.Release(payload.ScopeKey)
}

func (s *Server) handleTypingStart(conn *Conn, raw json.RawMessage) {
	payload, err := decode.Struct[TypingPayload](rawToMap(raw))
	if err != nil || payload.ScopeKey == "" {
		return
	}
	s.typing.Start(payload.ScopeKey, conn.UserID)
	s.publish(payload.ScopeKey, EventTypingStartOut, conn.DeviceID, map[string]string{"user_id": conn.UserID})
}

func (s *Server) handleTypingStop(conn *Conn, raw json.RawMessage) {
	payload, err := decode.Struct[TypingPayload](rawToMap(raw))
	if err != nil || payload.ScopeKey == "" {
		return
	}
	s.typing.Stop(payload.ScopeKey, conn.UserID)
	s.publish(payload.ScopeKey, EventTypingStopOut, conn.DeviceID, map[string]string{"user_id": conn.UserID})
}

func (s *Server) handleVoiceAnswer(conn *Conn, raw json.RawMessage) {
	if s.voice == nil {
		s.sendError(conn, "dependency_unavailable", "voice signaling unavailable")
		return
	}
	payload, err := decode.Struct[VoiceAnswerPayload](rawToMap(raw))
	if err != nil || payload.ChannelID == "" || payload.SessionID == "" {
		s.sendError(conn, "protocol_error", "invalid voice.answer payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.voice.Answer(ctx, payload.ChannelID, conn.UserID, payload.SessionID, payload.SDP); err != nil {
		s.sendHandlerError(conn, err)
	}
}

func (s *Server) handleVoiceTrickle(conn *Conn, raw json.RawMessage) {
	if s.voice == nil {
		return // fire-and-forget per spec §4.7; no handler configured is not worth erroring the connection over
	}
	payload, err := decode.Struct[VoiceTricklePayload](rawToMap(raw))
	if err != nil || payload.ChannelID == "" || payload.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.voice.Trickle(ctx, payload.ChannelID, conn.UserID, payload.SessionID, payload.Candidate); err != nil {
		logging.Debugf("gateway: voice trickle from user=%s failed: %v", conn.UserID, err)
	}
}

func (s *Server) handleVoiceLeave(conn *Conn, raw json.RawMessage) {
	if s.voice == nil {
		return
	}
	payload, err := decode.Struct[VoiceLeavePayload](rawToMap(raw))
	if err != nil || payload.ChannelID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.voice.Leave(ctx, payload.ChannelID, conn.UserID); err != nil {
		logging.Debugf("gateway: voice leave from user=%s failed: %v", conn.UserID, err)
	}
}

func (s *Server) handleVoiceStats(conn *Conn, raw json.RawMessage) {
	if s.voice == nil {
		return
	}
	payload, err := decode.Struct[VoiceStatsPayload](rawToMap(raw))
	if err != nil || payload.ChannelID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.voice.Stats(ctx, payload.ChannelID, conn.UserID, payload); err != nil {
		logging.Debugf("gateway: voice stats from user=%s failed: %v", conn.UserID, err)
	}
}

func (s *Server) handleCallStart(conn *Conn, raw json.RawMessage) {
	s.dispatchCall(conn, raw, func(ctx context.Context, channelID string) error {
		return s.call.Start(ctx, channelID, conn.UserID)
	})
}

func (s *Server) handleCallAccept(conn *Conn, raw json.RawMessage) {
	s.dispatchCall(conn, raw, func(ctx context.Context, channelID string) error {
		return s.call.Accept(ctx, channelID, conn.UserID)
	})
}

func (s *Server) handleCallDecline(conn *Conn, raw json.RawMessage) {
	s.dispatchCall(conn, raw, func(ctx context.Context, channelID string) error {
		return s.call.Decline(ctx, channelID, conn.UserID)
	})
}

func (s *Server) handleCallHangup(conn *Conn, raw json.RawMessage) {
	s.dispatchCall(conn, raw, func(ctx context.Context, channelID string) error {
		return s.call.Leave(ctx, channelID, conn.UserID)
	})
}

func (s *Server) dispatchCall(conn *Conn, raw json.RawMessage, fn func(ctx context.Context, channelID string) error) {
	if s.call == nil {
		s.sendError(conn, "dependency_unavailable", "call control unavailable")
		return
	}
	payload, err := decode.Struct[CallChannelPayload](rawToMap(raw))
	if err != nil || payload.ChannelID == "" {
		s.sendError(conn, "protocol_error", "invalid call control payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx, payload.ChannelID); err != nil {
		s.sendHandlerError(conn, err)
	}
}

// sendHandlerError maps a voice/call component error to the gateway's
// error event, falling back to a generic internal code for anything
// that isn't one of the taxonomy's *apperr.Error values.
func (s *Server) sendHandlerError(conn *Conn, err error) {
	if ae, ok := apperr.As(err); ok {
		s.sendError(conn, ae.Code, ae.Msg)
		return
	}
	s.sendError(conn, "internal", "internal error")
}

// emitTypingStop is the TypingTracker's expiry callback: it publishes a
// typing.stop as though the client had sent one, per spec §4.6's
// server-side auto-expiry.
func (s *Server) emitTypingStop(scopeKey, userID string) {
	s.publish(scopeKey, EventTypingStopOut, "", map[string]string{"user_id": userID})
}

// publish is the entry point other components (message send handlers,
// call control, voice signaling) use to fan an event out through the
// bus. Kept on Server rather than exported standalone so every
// publisher goes through the same OutboundEvent envelope.
func (s *Server) publish(scopeKey string, eventType EventType, originDeviceID string, payload interface{}) {
	ev := OutboundEvent{
		Type: eventType,
		Payload: EventPayload{
			ScopeKey:       scopeKey,
			Seq:            s.snowflake.Generate(),
			OriginDeviceID: originDeviceID,
			Data:           payload,
		},
	}
	data, err := ev.Marshal()
	if err != nil {
		logging.Errorf("gateway: marshal outbound event %s: %v", eventType, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Cross-device broadcast failures are swallowed (spec §7): the
	// authoritative state is in storage, not the bus.
	if err := s.bus.Publish(ctx, scopeKey, pubsub.Event{Type: string(eventType), Payload: json.RawMessage(data)}); err != nil {
		logging.Warnf("gateway: publish to %s failed: %v", scopeKey, err)
	}
}

func (s *Server) send(conn *Conn, eventType EventType, payload interface{}) {
	env := Envelope{Type: string(eventType)}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		env.Payload = data
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if !conn.Enqueue(data) {
		s.manager.Remove(conn)
		conn.Close(CloseBackpressure, "backpressure")
	}
}

func (s *Server) sendError(conn *Conn, code, message string) {
	s.send(conn, EventError, ErrorPayload{Code: code, Message: message})
}

// Publish exposes the same outbound-event path to other components
// (message handlers, moderation, voice, call) so every fan-out in the
// system uses one envelope shape and one sequence source.
func (s *Server) Publish(scopeKey string, eventType EventType, originDeviceID string, payload interface{}) {
	s.publish(scopeKey, eventType, originDeviceID, payload)
}
