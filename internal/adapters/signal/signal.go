package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sfu/internal/app/orch"
	"github.com/dkeye/sfu/internal/domain"
	"github.com/dkeye/sfu/internal/metrics"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
	ErrRateLimited  = errors.New("too many offers")
)

// Submitter hands a request to the worker owning its session and returns
// the single reply.
type Submitter interface {
	Submit(ctx context.Context, req orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error)
}

// Signaler is the transport independent part of signaling: offers are
// rate limited per endpoint and every request is bounded by Timeout.
type Signaler struct {
	Submitter Submitter
	Limiter   *OfferRateLimiter
	Timeout   time.Duration
}

func NewSignaler(s Submitter, limiter *OfferRateLimiter, timeout time.Duration) *Signaler {
	return &Signaler{Submitter: s, Limiter: limiter, Timeout: timeout}
}

func (s *Signaler) Offer(ctx context.Context, sid domain.SessionID, eid domain.EndpointID, offer []byte) (orch.SignalingProtocolMessage, error) {
	if s.Limiter != nil && !s.Limiter.Allow(Key{SessionID: sid, EndpointID: eid}) {
		metrics.SignalingRateLimitedTotal.Inc()
		return orch.SignalingProtocolMessage{}, ErrRateLimited
	}
	return s.submit(ctx, orch.Offer(sid, eid, offer))
}

func (s *Signaler) Leave(ctx context.Context, sid domain.SessionID, eid domain.EndpointID) (orch.SignalingProtocolMessage, error) {
	resp, err := s.submit(ctx, orch.Leave(sid, eid))
	if err == nil && s.Limiter != nil {
		s.Limiter.Forget(Key{SessionID: sid, EndpointID: eid})
	}
	return resp, err
}

func (s *Signaler) submit(ctx context.Context, req orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return s.Submitter.Submit(ctx, req)
}

// SignalWSController serves one websocket per endpoint. The socket is
// bound to the session and endpoint of its URL.
type SignalWSController struct {
	*Signaler
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(s *Signaler, readLimit int64, pingPeriod time.Duration) *SignalWSController {
	return &SignalWSController{
		Signaler:   s,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

type WsSignalConn struct {
	sid  domain.SessionID
	eid  domain.EndpointID
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request. Path ids are parsed by the caller.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, sid domain.SessionID, eid domain.EndpointID) {
	log.Info().Str("module", "signal").Stringer("sid", sid).Stringer("eid", eid).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &WsSignalConn{
		sid:  sid,
		eid:  eid,
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, conn)
	}()
}
