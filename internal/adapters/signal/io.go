package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/PoseSync/internal/core"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/dkeye/PoseSync/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(ctl.Opts.WriteWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		c.Close()
		ctl.Orch.OnDisconnect(c)
	}()

	c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait)) }
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
			}
			return
		}
		_ = extend()
		ctl.handleSignal(c, data)
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		ctl.Metrics.EventDropped("unknown", metrics.ReasonInvalid)
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad envelope")
		return
	}

	ev, err := ctl.Decoder.Decode(env.Event, env.Data)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEvent) {
			ctl.Metrics.EventDropped("unknown", metrics.ReasonUnknown)
		} else {
			ctl.Metrics.EventDropped(env.Event, metrics.ReasonInvalid)
		}
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("event", env.Event).Msg("dropped event")
		return
	}

	switch ev := ev.(type) {
	case domain.JoinSession:
		ctl.Orch.OnJoin(c, ev)
	case domain.PoseData:
		ctl.Orch.OnPose(c, ev)
	case domain.MusicControl:
		ctl.Orch.OnMediaControl(c, ev)
	case domain.Ping:
		ctl.handlePing(c)
	case domain.RTCOffer:
		ctl.handleOffer(c, ev)
	case domain.RTCCandidate:
		ctl.handleCandidate(c, ev)
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, event string, v any) {
	f, err := core.EncodeFrame(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(f); err != nil {
		ctl.Metrics.FrameDropped()
	}
}
