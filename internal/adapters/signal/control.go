package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/sfu/internal/app/orch"
	"github.com/dkeye/sfu/internal/app/sfu"
)

// ErrorReason maps a submission failure to the text sent to clients.
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, sfu.ErrNoRoute):
		return "no_route"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unavailable"
	}
}

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleOffer(ctx context.Context, conn *WsSignalConn, offer json.RawMessage) {
	if len(offer) == 0 {
		ctl.sendError(conn, "bad_payload")
		return
	}

	resp, err := ctl.Offer(ctx, conn.sid, conn.eid, offer)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Stringer("sid", conn.sid).Stringer("eid", conn.eid).Msg("offer not handled")
		ctl.sendError(conn, ErrorReason(err))
		return
	}

	switch resp.Kind {
	case orch.KindAnswer:
		ctl.sendJSON(conn, struct {
			Type   string          `json:"type"`
			Answer json.RawMessage `json:"answer"`
		}{
			Type:   "answer",
			Answer: resp.Payload,
		})
	case orch.KindErr:
		ctl.sendError(conn, resp.Reason())
	default:
		log.Error().Str("module", "signal").Stringer("kind", resp.Kind).Msg("unexpected offer reply")
		ctl.sendError(conn, orch.InvalidRequestReason)
	}
}

// handleLeave acknowledges the leave; the socket stays open.
func (ctl *SignalWSController) handleLeave(ctx context.Context, conn *WsSignalConn) {
	log.Info().Str("module", "signal").Stringer("sid", conn.sid).Stringer("eid", conn.eid).Msg("leave")

	resp, err := ctl.Leave(ctx, conn.sid, conn.eid)
	if err != nil {
		ctl.sendError(conn, ErrorReason(err))
		return
	}
	if resp.Kind == orch.KindErr {
		ctl.sendError(conn, resp.Reason())
		return
	}
	ctl.sendJSON(conn, map[string]any{
		"type": "left",
	})
}
