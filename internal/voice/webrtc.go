package voice

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ICEConfig holds the STUN/TURN servers and the SFU's ephemeral UDP port
// range (spec §6's "SFU UDP port range 10000-10100" configuration
// entry). Grounded on bureau-foundation-bureau's transport/ice.go
// ICEConfig, minus its TURN-credential-refresh plumbing: this module has
// no homeserver to mint short-lived TURN credentials from, so Servers is
// a fixed list set by whoever builds the ICEConfig. Config has no ICE
// server setting; cmd/hearthline sets only the UDP port range and leaves
// Servers empty.
type ICEConfig struct {
	Servers    []webrtc.ICEServer
	UDPPortMin uint16
	UDPPortMax uint16
}

// newPeerConnection creates one pion PeerConnection for a single voice
// participant. Grounded on bureau's transport/webrtc.go
// newPeerConnection: a SettingEngine restricts the ephemeral UDP range
// so the SFU's listening ports match the ones spec §6 requires operators
// to open in their firewall, and loopback candidates are included so a
// single-machine deployment (or a test) can complete ICE without a real
// NIC route between participants.
func newPeerConnection(cfg ICEConfig) (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.UDPPortMin != 0 && cfg.UDPPortMax != 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("voice: configuring UDP port range [%d,%d]: %w", cfg.UDPPortMin, cfg.UDPPortMax, err)
		}
	}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.Servers})
}
