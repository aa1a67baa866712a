package gateway

import "encoding/json"

// Envelope is the wire shape spec §6 names for every gateway message in
// both directions: {"type":"<name>","payload":{...}}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventType enumerates the typed union spec §4.6 names for outbound
// fan-out events, plus the handful of inbound control frames (auth,
// subscribe, unsubscribe, ping, typing.start/stop) a connection sends.
type EventType string

const (
	// Inbound control frames.
	EventAuth        EventType = "auth"
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventPing        EventType = "ping"
	EventTypingStart EventType = "typing.start"
	EventTypingStop  EventType = "typing.stop"

	// Inbound voice/call signaling frames. voice.join itself is REST
	// (spec §6: "POST /voice/join returns an offer SDP and session
	// id"); everything after the offer — the answer and trickled ICE —
	// travels over the gateway per §4.7 step 3.
	EventVoiceAnswer       EventType = "voice.answer"
	EventVoiceICECandidate EventType = "voice.ice_candidate"
	EventVoiceLeave        EventType = "voice.leave"
	EventVoiceStats        EventType = "voice.stats"
	EventCallStart         EventType = "call.start"
	EventCallAccept        EventType = "call.accept"
	EventCallDecline       EventType = "call.decline"
	EventCallHangup        EventType = "call.hangup"

	// Outbound control frames.
	EventPong  EventType = "pong"
	EventError EventType = "error"

	// Outbound fan-out events, verbatim from spec §4.6.
	EventMessageNew               EventType = "message.new"
	EventMessageEdit              EventType = "message.edit"
	EventMessageDelete            EventType = "message.delete"
	EventReactionAdd              EventType = "reaction.add"
	EventReactionRemove           EventType = "reaction.remove"
	EventTypingStartOut           EventType = "typing.start"
	EventTypingStopOut            EventType = "typing.stop"
	EventPresenceUpdate           EventType = "presence.update"
	EventVoiceUserJoined          EventType = "voice.user_joined"
	EventVoiceUserLeft            EventType = "voice.user_left"
	EventVoiceUserMuted           EventType = "voice.user_muted"
	EventVoiceUserUnmuted         EventType = "voice.user_unmuted"
	EventVoiceRoomState           EventType = "voice.room_state"
	EventVoiceUserStats           EventType = "voice.user_stats"
	EventCallIncoming             EventType = "call.incoming"
	EventCallStarted              EventType = "call.started"
	EventCallEnded                EventType = "call.ended"
	EventCallParticipantJoined    EventType = "call.participant_joined"
	EventCallParticipantLeft      EventType = "call.participant_left"
	EventCallDeclined             EventType = "call.declined"
	EventScreenShareStarted       EventType = "screen_share.started"
	EventScreenShareStopped       EventType = "screen_share.stopped"
	EventScreenShareQualityChange EventType = "screen_share.quality_changed"
	EventDMRead                   EventType = "dm.read"
	EventChannelRead              EventType = "channel.read"
	EventDMNameUpdated            EventType = "dm.name_updated"
	EventFriendRequestReceived    EventType = "friend.request_received"
	EventFriendRequestAccepted    EventType = "friend.request_accepted"
	EventPreferencesUpdated       EventType = "preferences.updated"
	EventAdminUserBanned          EventType = "admin.user_banned"
	EventAdminUserUnbanned        EventType = "admin.user_unbanned"
	EventAdminGuildSuspended      EventType = "admin.guild_suspended"
	EventAdminGuildUnsuspended    EventType = "admin.guild_unsuspended"
	EventModerationWarning        EventType = "moderation.warning"
	EventPatch                    EventType = "patch"
)

// OutboundEvent is the envelope published onto a scope key and fanned
// out verbatim to every local subscriber, matching spec §6's
// {"type":"<name>","payload":{...}} contract exactly — ScopeKey and Seq
// live inside Payload per spec §4.6 ("each payload carries the scope
// key and a monotonic event sequence per sender"), not as extra
// top-level envelope fields. OriginDeviceID answers open question (c):
// cross-device broadcasts include the originating device and expect
// clients to filter it out locally.
type OutboundEvent struct {
	Type    EventType    `json:"type"`
	Payload EventPayload `json:"payload"`
}

type EventPayload struct {
	ScopeKey       string      `json:"scope_key"`
	Seq            int64       `json:"seq"`
	OriginDeviceID string      `json:"origin_device_id,omitempty"`
	Data           interface{} `json:"data"`
}

func (e OutboundEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// AuthPayload is the inbound auth frame's payload, matching spec §6:
// `{"type":"auth","token":"..."}`. DeviceID is accepted optionally so a
// client can self-report which device this connection belongs to for
// origin_device_id filtering.
type AuthPayload struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id,omitempty"`
}

type SubscribePayload struct {
	ScopeKey string `json:"scope_key"`
}

type TypingPayload struct {
	ScopeKey string `json:"scope_key"`
}

// VoiceAnswerPayload is the client's SDP answer to the offer returned by
// POST /voice/join (spec §4.7 step 3).
type VoiceAnswerPayload struct {
	ChannelID string `json:"channel_id"`
	SessionID string `json:"session_id"`
	SDP       string `json:"sdp"`
}

// VoiceTricklePayload carries one ICE candidate, trickled fire-and-forget
// in both directions over the voice:{channel_id} scope (spec §4.7 step 3).
type VoiceTricklePayload struct {
	ChannelID string          `json:"channel_id"`
	SessionID string          `json:"session_id"`
	Candidate json.RawMessage `json:"candidate"`
}

type VoiceLeavePayload struct {
	ChannelID string `json:"channel_id"`
}

// VoiceStatsPayload is one client-reported per-second WebRTC sample
// (spec §4.7: "latency, packet loss, jitter, subjective quality score").
type VoiceStatsPayload struct {
	ChannelID  string  `json:"channel_id"`
	LatencyMS  int     `json:"latency_ms"`
	PacketLoss float64 `json:"packet_loss"`
	JitterMS   int     `json:"jitter_ms"`
	Quality    int     `json:"quality"`
}

type CallChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

// ErrorPayload is sent on a rejected subscribe or a protocol violation
// that does not itself close the connection (spec §4.6: "Unauthorized
// subscribes are rejected with an error event, not silently ignored").
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
