package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sfu/internal/core"
	"github.com/dkeye/sfu/internal/metrics"
)

// Orchestrator applies signaling requests to the negotiation state of one
// media port. Only the goroutine running Run (or calling
// HandleSignalingMessage) may touch States.
type Orchestrator struct {
	States *core.ServerStates

	port   string
	logger zerolog.Logger
}

func NewOrchestrator(states *core.ServerStates) *Orchestrator {
	port := fmt.Sprint(states.LocalAddr().Port())
	return &Orchestrator{
		States: states,
		port:   port,
		logger: log.With().Str("module", "app.orch").Str("port", port).Logger(),
	}
}

// Port labels the metrics of this orchestrator.
func (o *Orchestrator) Port() string { return o.port }

// Run drains requests until ctx is done or the channel is closed.
func (o *Orchestrator) Run(ctx context.Context, requests <-chan SignalingMessage) {
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("orchestrator ctx done")
			return
		case msg, ok := <-requests:
			if !ok {
				o.logger.Info().Msg("signaling channel closed")
				return
			}
			if err := o.HandleSignalingMessage(msg); err != nil {
				o.logger.Error().Err(err).Msg("handle signaling message")
			}
		}
	}
}

// HandleSignalingMessage answers msg exactly once. The returned error is
// only about delivering that answer.
func (o *Orchestrator) HandleSignalingMessage(msg SignalingMessage) error {
	req := msg.Request
	var resp SignalingProtocolMessage
	switch req.Kind {
	case KindOffer:
		resp = o.handleOffer(req)
	case KindLeave:
		resp = o.handleLeave(req)
	default:
		metrics.InvalidRequestsTotal.Inc()
		o.logger.Warn().Str("kind", req.Kind.String()).Msg("invalid signaling request")
		resp = req.fail(InvalidRequestReason)
	}

	if err := msg.respond(resp); err != nil {
		metrics.UndeliveredRepliesTotal.Inc()
		return fmt.Errorf("%s reply for session %d endpoint %d: %w", resp.Kind, req.SessionID, req.EndpointID, err)
	}
	return nil
}

func (o *Orchestrator) handleOffer(req SignalingProtocolMessage) SignalingProtocolMessage {
	logger := o.logger.With().
		Uint64("session_id", uint64(req.SessionID)).
		Uint64("endpoint_id", uint64(req.EndpointID)).
		Logger()

	var offer core.SessionDescription
	if err := json.Unmarshal(req.Payload, &offer); err != nil {
		metrics.OffersTotal.WithLabelValues("rejected").Inc()
		logger.Warn().Err(err).Msg("bad offer payload")
		return req.fail(fmt.Sprintf("decode offer: %v", err))
	}

	answer, err := o.States.AcceptOffer(req.SessionID, req.EndpointID, offer)
	if err != nil {
		metrics.OffersTotal.WithLabelValues("rejected").Inc()
		logger.Warn().Err(err).Msg("offer rejected")
		return req.fail(err.Error())
	}

	payload, err := json.Marshal(answer)
	if err != nil {
		metrics.OffersTotal.WithLabelValues("rejected").Inc()
		logger.Error().Err(err).Msg("encode answer")
		return req.fail(fmt.Sprintf("encode answer: %v", err))
	}

	metrics.OffersTotal.WithLabelValues("accepted").Inc()
	metrics.Sessions.WithLabelValues(o.port).Set(float64(o.States.SessionCount()))
	metrics.Candidates.WithLabelValues(o.port).Set(float64(o.States.CandidateCount()))
	logger.Info().Int("candidates", o.States.CandidateCount()).Msg("offer accepted")
	return req.answer(payload)
}

// handleLeave only acknowledges: endpoint state is kept until eviction of
// idle candidates exists.
func (o *Orchestrator) handleLeave(req SignalingProtocolMessage) SignalingProtocolMessage {
	metrics.LeavesTotal.Inc()
	o.logger.Info().
		Uint64("session_id", uint64(req.SessionID)).
		Uint64("endpoint_id", uint64(req.EndpointID)).
		Msg("endpoint leaving")
	return req.ok()
}
