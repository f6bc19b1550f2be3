package signal

import (
	"github.com/dkeye/PoseSync/internal/adapters/rtc"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/dkeye/PoseSync/internal/metrics"
	"github.com/rs/zerolog/log"
)

// handleOffer negotiates a data channel that carries pose frames upstream.
// Frames arriving on it go through the same binding checks as WebSocket ones.
func (ctl *SignalWSController) handleOffer(conn *WsSignalConn, p domain.RTCOffer) {
	if ctl.Opts.WebRTC == nil {
		ctl.Metrics.EventDropped(domain.EventRTCOffer, metrics.ReasonDisabled)
		return
	}
	if _, ok := ctl.Orch.Registry.Lookup(conn.ID()); !ok {
		ctl.Metrics.EventDropped(domain.EventRTCOffer, metrics.ReasonUnbound)
		return
	}

	up, err := rtc.NewUplink(*ctl.Opts.WebRTC, conn.ID())
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(conn.id)).Msg("webrtc new pc")
		return
	}
	up.OnICECandidate(func(c domain.RTCCandidate) {
		ctl.sendJSON(conn, domain.EventRTCCandidate, c)
	})
	up.OnMessage(func(data []byte) {
		ev, err := ctl.Decoder.DecodePose(data)
		if err != nil {
			ctl.Metrics.EventDropped(domain.EventPoseData, metrics.ReasonInvalid)
			return
		}
		ctl.Orch.OnPose(conn, ev)
	})
	up.Start()

	answer, err := up.Answer(p.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(conn.id)).Msg("webrtc apply offer")
		up.Close()
		return
	}
	if !conn.attachUplink(up) {
		up.Close()
		return
	}
	ctl.sendJSON(conn, domain.EventRTCAnswer, domain.RTCAnswer{SDP: answer})
}

func (ctl *SignalWSController) handleCandidate(conn *WsSignalConn, c domain.RTCCandidate) {
	up := conn.currentUplink()
	if up == nil {
		log.Warn().Str("module", "signal").Str("conn", string(conn.id)).Msg("candidate: no uplink")
		return
	}
	if err := up.AddICECandidate(c); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(conn.id)).Msg("add ice candidate")
	}
}
