package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sfu/internal/adapters/signal"
	"github.com/dkeye/sfu/internal/app/orch"
	"github.com/dkeye/sfu/internal/app/sfu"
	"github.com/dkeye/sfu/internal/domain"
)

const maxOfferBytes = 1 << 20

type handlers struct {
	signaler *signal.Signaler
}

func pathIDs(c *gin.Context) (domain.SessionID, domain.EndpointID, bool) {
	sid, err := domain.ParseSessionID(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, 0, false
	}
	eid, err := domain.ParseEndpointID(c.Param("endpoint_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, 0, false
	}
	return sid, eid, true
}

// offerPayload accepts either a JSON session description or a raw SDP
// body and returns the JSON form.
func offerPayload(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty offer")
	}
	if trimmed[0] == '{' {
		if !json.Valid(trimmed) {
			return nil, errors.New("offer is not valid json")
		}
		return trimmed, nil
	}
	return json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(body)})
}

// submitError writes the response for a request that never got a reply.
func submitError(c *gin.Context, err error) {
	status := http.StatusServiceUnavailable
	switch {
	case errors.Is(err, signal.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, sfu.ErrNoRoute):
		status = http.StatusNotAcceptable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": signal.ErrorReason(err)})
}

func (h *handlers) offer(c *gin.Context) {
	sid, eid, ok := pathIDs(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxOfferBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "offer too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	payload, err := offerPayload(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.signaler.Offer(c.Request.Context(), sid, eid, payload)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Stringer("sid", sid).Stringer("eid", eid).Msg("offer not handled")
		submitError(c, err)
		return
	}

	switch resp.Kind {
	case orch.KindAnswer:
		c.Data(http.StatusOK, "application/json", resp.Payload)
	case orch.KindErr:
		c.JSON(http.StatusBadRequest, gin.H{"error": resp.Reason()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": orch.InvalidRequestReason})
	}
}

func (h *handlers) leave(c *gin.Context) {
	sid, eid, ok := pathIDs(c)
	if !ok {
		return
	}

	resp, err := h.signaler.Leave(c.Request.Context(), sid, eid)
	if err != nil {
		submitError(c, err)
		return
	}
	if resp.Kind == orch.KindErr {
		c.JSON(http.StatusBadRequest, gin.H{"error": resp.Reason()})
		return
	}
	c.Status(http.StatusOK)
}
