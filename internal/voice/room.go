package voice

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/gateway"
	"github.com/hearthline/core/internal/ids"
	"github.com/hearthline/core/internal/logging"
	"github.com/hearthline/core/internal/pubsub"
	"github.com/hearthline/core/internal/safe"
)

// Publisher is the narrow slice of *gateway.Server a voice room needs:
// one fan-out call per event, going through the same envelope every
// other component publishes with (spec §4.6).
type Publisher interface {
	Publish(scopeKey string, eventType gateway.EventType, originDeviceID string, payload interface{})
}

// UserStats is one client-reported WebRTC sample, or the running
// aggregate of several (spec §4.7: "latency, packet loss, jitter,
// subjective quality score").
type UserStats struct {
	LatencyMS  int
	PacketLoss float64
	JitterMS   int
	Quality    int
}

// relayTrack fans one participant's inbound RTP out to every other
// participant currently in the room: one local track per destination,
// all fed by a single read loop off the source's remote track. Grounded
// on pion's own SFU broadcast pattern, adapted to this room's
// single-writer actor rather than a package-level mutex.
type relayTrack struct {
	sourceUserID string
	remote       *webrtc.TrackRemote

	mu      sync.Mutex
	outputs map[string]*webrtc.TrackLocalStaticRTP // destination userID -> local track
}

type participant struct {
	userID    string
	deviceID  string
	sessionID string
	pc        *webrtc.PeerConnection

	statsMu  sync.Mutex
	statsBuf []UserStats
	lastEmit time.Time
}

// recordStats folds one sample into the pending buffer, returning the
// averaged aggregate once rateLimit has elapsed since the last emission
// (spec §4.7: "rate-limits publication ... to one per user per 3
// seconds; samples in between are aggregated"). ok is false while the
// sample is only buffered.
func (p *participant) recordStats(sample UserStats, rateLimit time.Duration) (agg UserStats, ok bool) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	p.statsBuf = append(p.statsBuf, sample)
	if !p.lastEmit.IsZero() && time.Since(p.lastEmit) < rateLimit {
		return UserStats{}, false
	}

	n := len(p.statsBuf)
	for _, s := range p.statsBuf {
		agg.LatencyMS += s.LatencyMS
		agg.PacketLoss += s.PacketLoss
		agg.JitterMS += s.JitterMS
		agg.Quality += s.Quality
	}
	agg.LatencyMS /= n
	agg.PacketLoss /= float64(n)
	agg.JitterMS /= n
	agg.Quality /= n

	p.statsBuf = p.statsBuf[:0]
	p.lastEmit = time.Now()
	return agg, true
}

// roomCmd runs on the room's single-writer goroutine, the "channel-per-
// room" invariant spec §5 calls for so RTP forwarding state and
// participant bookkeeping never race with a concurrent join or leave.
type roomCmd func() error

// Room owns one voice channel's session end to end: participant
// PeerConnections, SFU relay tracks, and join/leave bookkeeping. Spec
// §5: "Voice rooms are owned by a single task per channel; external
// mutations pass through a channel-per-room to preserve single-writer
// invariants on RTP forwarding state."
type Room struct {
	channelID string
	userLimit int
	iceCfg    ICEConfig
	publisher Publisher
	snowflake *ids.Snowflake

	cmds chan roomCmd
	done chan struct{}
	stop sync.Once

	participants map[string]*participant // touched only on the actor goroutine
	relays       []*relayTrack
}

func newRoom(channelID string, userLimit int, iceCfg ICEConfig, publisher Publisher, snowflake *ids.Snowflake) *Room {
	r := &Room{
		channelID:    channelID,
		userLimit:    userLimit,
		iceCfg:       iceCfg,
		publisher:    publisher,
		snowflake:    snowflake,
		cmds:         make(chan roomCmd, 64),
		done:         make(chan struct{}),
		participants: make(map[string]*participant),
	}
	safe.Go(fmt.Sprintf("voice-room-%s", channelID), r.run)
	return r
}

func (r *Room) run() {
	for {
		select {
		case cmd := <-r.cmds:
			_ = cmd()
		case <-r.done:
			return
		}
	}
}

// exec runs fn on the room's single-writer goroutine and blocks for its
// result.
func (r *Room) exec(fn func() error) error {
	resultCh := make(chan error, 1)
	wrapped := func() error {
		err := fn()
		resultCh <- err
		return err
	}
	select {
	case r.cmds <- wrapped:
	case <-r.done:
		return apperr.SfuUnavailable
	}
	select {
	case err := <-resultCh:
		return err
	case <-r.done:
		return apperr.SfuUnavailable
	}
}

func (r *Room) close() {
	r.stop.Do(func() {
		close(r.done)
	})
}

// isEmpty is read by Manager right after a leave's exec() has returned,
// when the actor is guaranteed idle with respect to that leave, so no
// lock is needed for this one-off check.
func (r *Room) isEmpty() bool {
	return len(r.participants) == 0
}

// join allocates a PeerConnection for userID, wires it into the room's
// relay graph, and returns the server's SDP offer plus a session id
// (spec §4.7 steps 1-2: the server is the offerer, unlike a typical
// browser-originates-the-offer flow).
func (r *Room) join(userID, deviceID string) (sdp, sessionID string, err error) {
	execErr := r.exec(func() error {
		if _, exists := r.participants[userID]; exists {
			return apperr.AlreadyInVoice
		}
		if r.userLimit > 0 && len(r.participants) >= r.userLimit {
			return apperr.RoomFull
		}

		pc, perr := newPeerConnection(r.iceCfg)
		if perr != nil {
			return apperr.SfuUnavailable.WithDetail("peer connection: %v", perr)
		}

		if _, aerr := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); aerr != nil {
			pc.Close()
			return apperr.SfuUnavailable.WithDetail("add audio transceiver: %v", aerr)
		}

		sess := &participant{
			userID:    userID,
			deviceID:  deviceID,
			sessionID: r.snowflake.GenerateString(),
			pc:        pc,
		}

		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			r.onRemoteTrack(sess, track)
		})
		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			r.publishTrickle(sess, c.ToJSON())
		})
		pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
			if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
				safe.Go(fmt.Sprintf("voice-forced-leave-%s-%s", r.channelID, userID), func() {
					_ = r.leave(userID)
				})
			}
		})

		// Wire the new participant to every existing speaker's relay
		// before generating the offer, so the initial SDP already
		// describes every m-line the client should expect.
		for _, relay := range r.relays {
			if relay.sourceUserID == userID {
				continue
			}
			if aerr := r.attachRelayOutput(relay, sess); aerr != nil {
				logging.Warnf("voice: attaching existing relay %s to new participant %s: %v", relay.sourceUserID, userID, aerr)
			}
		}

		offer, oerr := pc.CreateOffer(nil)
		if oerr != nil {
			pc.Close()
			return apperr.SfuUnavailable.WithDetail("create offer: %v", oerr)
		}
		if serr := pc.SetLocalDescription(offer); serr != nil {
			pc.Close()
			return apperr.SfuUnavailable.WithDetail("set local description: %v", serr)
		}

		r.participants[userID] = sess
		sdp = pc.LocalDescription().SDP
		sessionID = sess.sessionID
		return nil
	})
	if execErr != nil {
		return "", "", execErr
	}

	r.publisher.Publish(pubsub.VoiceScope(r.channelID), gateway.EventVoiceUserJoined, "", map[string]string{"user_id": userID})
	return sdp, sessionID, nil
}

func (r *Room) answer(userID, sdp string) error {
	return r.exec(func() error {
		sess, ok := r.participants[userID]
		if !ok {
			return apperr.NotFound.WithDetail("no active voice session for user %s in channel %s", userID, r.channelID)
		}
		return sess.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	})
}

func (r *Room) trickle(userID string, candidate webrtc.ICECandidateInit) error {
	return r.exec(func() error {
		sess, ok := r.participants[userID]
		if !ok {
			return apperr.NotFound.WithDetail("no active voice session for user %s in channel %s", userID, r.channelID)
		}
		return sess.pc.AddICECandidate(candidate)
	})
}

func (r *Room) recordStats(userID string, sample UserStats, rateLimit time.Duration) (agg UserStats, ready bool, err error) {
	err = r.exec(func() error {
		sess, ok := r.participants[userID]
		if !ok {
			return apperr.NotFound.WithDetail("no active voice session for user %s in channel %s", userID, r.channelID)
		}
		agg, ready = sess.recordStats(sample, rateLimit)
		return nil
	})
	return agg, ready, err
}

// leave is idempotent: leaving a user no longer present is a no-op, per
// spec §4.7's "the client has retry logic, [so] the server must make
// forced leaves idempotent."
func (r *Room) leave(userID string) error {
	var wasPresent bool
	err := r.exec(func() error {
		sess, ok := r.participants[userID]
		if !ok {
			return nil
		}
		wasPresent = true
		sess.pc.Close()
		delete(r.participants, userID)

		for _, relay := range r.relays {
			relay.mu.Lock()
			delete(relay.outputs, userID)
			relay.mu.Unlock()
		}
		kept := r.relays[:0]
		for _, relay := range r.relays {
			if relay.sourceUserID != userID {
				kept = append(kept, relay)
			}
		}
		r.relays = kept
		return nil
	})
	if err != nil || !wasPresent {
		return err
	}
	r.publisher.Publish(pubsub.VoiceScope(r.channelID), gateway.EventVoiceUserLeft, "", map[string]string{"user_id": userID})
	return nil
}

// onRemoteTrack registers a new relay source and starts its RTP fan-out
// loop. Called from pion's own callback goroutine, so the bookkeeping
// half runs through exec to stay on the room's single writer.
func (r *Room) onRemoteTrack(sess *participant, remote *webrtc.TrackRemote) {
	relay := &relayTrack{
		sourceUserID: sess.userID,
		remote:       remote,
		outputs:      make(map[string]*webrtc.TrackLocalStaticRTP),
	}

	err := r.exec(func() error {
		if _, ok := r.participants[sess.userID]; !ok {
			return apperr.NotFound
		}
		r.relays = append(r.relays, relay)
		for otherID, other := range r.participants {
			if otherID == sess.userID {
				continue
			}
			if aerr := r.attachRelayOutput(relay, other); aerr != nil {
				logging.Warnf("voice: attaching new relay %s to %s: %v", sess.userID, otherID, aerr)
			}
		}
		return nil
	})
	if err != nil {
		return
	}

	safe.Go(fmt.Sprintf("voice-relay-%s-%s", r.channelID, sess.userID), func() {
		buf := make([]byte, 1500)
		for {
			n, _, rerr := remote.Read(buf)
			if rerr != nil {
				if rerr != io.EOF {
					logging.Debugf("voice: relay read for %s/%s ended: %v", r.channelID, sess.userID, rerr)
				}
				return
			}

			relay.mu.Lock()
			outputs := make([]*webrtc.TrackLocalStaticRTP, 0, len(relay.outputs))
			for _, t := range relay.outputs {
				outputs = append(outputs, t)
			}
			relay.mu.Unlock()

			for _, t := range outputs {
				if _, werr := t.Write(buf[:n]); werr != nil {
					logging.Debugf("voice: relay write to output track failed: %v", werr)
				}
			}
		}
	})
}

// attachRelayOutput must be called from the room's actor goroutine (the
// caller holds no lock on r.participants/r.relays otherwise).
func (r *Room) attachRelayOutput(relay *relayTrack, dest *participant) error {
	localTrack, err := webrtc.NewTrackLocalStaticRTP(relay.remote.Codec().RTPCodecCapability, relay.remote.ID(), relay.sourceUserID)
	if err != nil {
		return fmt.Errorf("voice: new local track: %w", err)
	}
	if _, err := dest.pc.AddTrack(localTrack); err != nil {
		return fmt.Errorf("voice: add track to %s: %w", dest.userID, err)
	}
	relay.mu.Lock()
	relay.outputs[dest.userID] = localTrack
	relay.mu.Unlock()
	return nil
}

func (r *Room) publishTrickle(sess *participant, candidate webrtc.ICECandidateInit) {
	data, err := json.Marshal(candidate)
	if err != nil {
		logging.Errorf("voice: marshal trickle candidate: %v", err)
		return
	}
	r.publisher.Publish(pubsub.VoiceScope(r.channelID), gateway.EventVoiceICECandidate, sess.deviceID, gateway.VoiceTricklePayload{
		ChannelID: r.channelID,
		SessionID: sess.sessionID,
		Candidate: data,
	})
}
