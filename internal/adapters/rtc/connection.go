package rtc

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/PoseSync/internal/core"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const gatherTimeout = 5 * time.Second

var ErrGatherTimeout = errors.New("ice gathering timed out")

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceServers},
		},
	}
}

// Uplink is the answering side of a peer connection whose data channels carry
// pose frames from one browser to the server.
type Uplink struct {
	pc   *webrtc.PeerConnection
	conn core.ConnID

	mu        sync.RWMutex
	onICE     func(domain.RTCCandidate)
	onMessage func([]byte)

	closeOnce sync.Once
}

func NewUplink(cfg webrtc.Configuration, conn core.ConnID) (*Uplink, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Uplink{pc: pc, conn: conn}, nil
}

func (u *Uplink) Start() {
	u.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "rtc").Str("conn", string(u.conn)).Str("ice_state", s.String()).Msg("ICE state")
	})

	u.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("conn", string(u.conn)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed {
			u.Close()
		}
	})

	u.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		u.mu.RLock()
		fn := u.onICE
		u.mu.RUnlock()
		if fn == nil {
			return
		}
		ci := cand.ToJSON()
		fn(domain.RTCCandidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})

	u.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().Str("module", "rtc").Str("conn", string(u.conn)).Str("label", dc.Label()).Msg("data channel opened")
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			u.mu.RLock()
			fn := u.onMessage
			u.mu.RUnlock()
			if fn != nil {
				fn(msg.Data)
			}
		})
	})
}

// Answer applies the remote offer and returns the local answer SDP once ICE
// gathering has finished.
func (u *Uplink) Answer(offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := u.pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := u.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}

	gatherComplete := webrtc.GatheringCompletePromise(u.pc)
	if err := u.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	select {
	case <-gatherComplete:
	case <-time.After(gatherTimeout):
		return "", ErrGatherTimeout
	}
	return u.pc.LocalDescription().SDP, nil
}

func (u *Uplink) AddICECandidate(c domain.RTCCandidate) error {
	return u.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (u *Uplink) OnICECandidate(fn func(domain.RTCCandidate)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onICE = fn
}

// OnMessage sets the callback for every message received on any data channel.
func (u *Uplink) OnMessage(fn func([]byte)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onMessage = fn
}

func (u *Uplink) Close() {
	u.closeOnce.Do(func() {
		if err := u.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("conn", string(u.conn)).Msg("close error")
			return
		}
		log.Info().Str("module", "rtc").Str("conn", string(u.conn)).Msg("closed")
	})
}
