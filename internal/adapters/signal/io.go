package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

// pongWait is how long a silent peer is tolerated.
func (ctl *SignalWSController) pongWait() time.Duration {
	return ctl.PingPeriod * 10 / 9
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Stringer("sid", c.sid).Stringer("eid", c.eid).Msg("readPump closing")
		c.Close()
	}()

	if ctl.PingPeriod > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Stringer("sid", c.sid).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "signal").Stringer("sid", c.sid).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, c, data)
		}
	}
}

// envelope is a client message. An offer is sent either as
// {"type":"offer","offer":{"type":"offer","sdp":"..."}} or in the short
// form {"type":"offer","sdp":"..."}.
type envelope struct {
	Type  string          `json:"type"`
	Offer json.RawMessage `json:"offer,omitempty"`
	SDP   string          `json:"sdp,omitempty"`
}

// offerPayload is the session description JSON handed to the worker.
func (e envelope) offerPayload() (json.RawMessage, error) {
	if len(e.Offer) > 0 {
		return e.Offer, nil
	}
	if e.SDP == "" {
		return nil, nil
	}
	return json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: e.SDP})
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case "offer":
		offer, err := env.offerPayload()
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad offer")
			ctl.sendError(c, "bad_payload")
			return
		}
		ctl.handleOffer(ctx, c, offer)
	case "leave":
		ctl.handleLeave(ctx, c)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, "unknown_type")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Stringer("sid", c.sid).Msg("sendJSON dropped")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, reason string) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"error": reason,
	})
}
