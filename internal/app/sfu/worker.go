package sfu

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/pion/stun/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sfu/internal/app/orch"
	"github.com/dkeye/sfu/internal/core"
	"github.com/dkeye/sfu/internal/domain"
	"github.com/dkeye/sfu/internal/metrics"
)

const (
	receiveMTU       = 1500
	datagramBacklog  = 256
	defaultTickEvery = time.Second
)

type datagram struct {
	at   time.Time
	from netip.AddrPort
	buf  []byte
}

// Worker owns one media port: its UDP socket and the negotiation state
// behind it. Signaling requests, datagrams and timer ticks are all
// handled by the goroutine running Run.
type Worker struct {
	conn    *net.UDPConn
	orch    *orch.Orchestrator
	signals chan orch.SignalingMessage
	packets chan datagram
	tick    time.Duration
	state   workerState
	logger  zerolog.Logger

	// peers are remote addresses that passed a connectivity check.
	peers map[netip.AddrPort]domain.UserName
}

func NewWorker(conn *net.UDPConn, states *core.ServerStates) *Worker {
	return &Worker{
		conn:    conn,
		orch:    orch.NewOrchestrator(states),
		signals: make(chan orch.SignalingMessage, 1),
		packets: make(chan datagram, datagramBacklog),
		tick:    defaultTickEvery,
		logger: log.With().
			Str("module", "app.sfu").
			Str("local", states.LocalAddr().String()).
			Logger(),
		peers: make(map[netip.AddrPort]domain.UserName),
	}
}

func (w *Worker) Port() uint16 { return w.orch.States.LocalAddr().Port() }

func (w *Worker) State() WorkerState { return w.state.Get() }

// Signals is where signaling transports submit requests.
func (w *Worker) Signals() chan<- orch.SignalingMessage { return w.signals }

// Run blocks until ctx is done. The socket is closed on return.
func (w *Worker) Run(ctx context.Context) {
	w.state.MarkRunning()
	defer w.state.MarkStopped()

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.readLoop(readCtx)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	w.logger.Info().Msg("media worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("media worker ctx done")
			_ = w.conn.Close()
			return
		case msg := <-w.signals:
			if err := w.orch.HandleSignalingMessage(msg); err != nil {
				w.logger.Error().Err(err).Msg("handle signaling message")
			}
		case d := <-w.packets:
			w.handleDatagram(d)
		case now := <-ticker.C:
			w.handleTick(now)
		}
	}
}

func (w *Worker) readLoop(ctx context.Context) {
	buf := make([]byte, receiveMTU)
	for {
		n, from, err := w.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				w.logger.Info().Msg("UDP connection closed, stopping read loop")
				return
			}
			w.logger.Warn().Err(err).Msg("read UDP packet")
			continue
		}
		d := datagram{at: time.Now(), from: from, buf: append([]byte(nil), buf[:n]...)}
		select {
		case w.packets <- d:
		case <-ctx.Done():
			return
		default:
			metrics.DatagramsTotal.WithLabelValues("dropped").Inc()
		}
	}
}

func (w *Worker) handleDatagram(d datagram) {
	states := w.orch.States
	ev, err := core.Classify(d.at, core.TransportContext{LocalAddr: states.LocalAddr(), RemoteAddr: d.from}, d.buf)
	if err != nil {
		metrics.DatagramsTotal.WithLabelValues("unknown").Inc()
		w.logger.Debug().Err(err).Str("from", d.from.String()).Msg("drop datagram")
		return
	}

	switch m := ev.Message.(type) {
	case core.STUNMessage:
		metrics.DatagramsTotal.WithLabelValues("stun").Inc()
		w.handleBinding(ev, m.Message)
	case core.DTLSRaw:
		metrics.DatagramsTotal.WithLabelValues("dtls").Inc()
		username, ok := w.peers[d.from]
		if !ok {
			w.logger.Debug().Str("from", d.from.String()).Msg("dtls from unknown peer")
			return
		}
		w.logger.Debug().
			Str("from", d.from.String()).
			Str("username", string(username)).
			Int("bytes", len(m.Payload)).
			Msg("dtls record")
	case core.RTPRaw:
		metrics.DatagramsTotal.WithLabelValues("rtp").Inc()
		ev, err = states.DecryptMedia(ev)
		if err != nil {
			w.logger.Debug().Err(err).Str("from", d.from.String()).Msg("drop media")
			return
		}
		w.logMedia(ev)
	}
}

func (w *Worker) logMedia(ev core.TaggedMessageEvent) {
	switch m := ev.Message.(type) {
	case core.RTPPacket:
		w.logger.Debug().
			Str("from", ev.Transport.RemoteAddr.String()).
			Uint32("ssrc", m.Packet.SSRC).
			Uint16("seq", m.Packet.SequenceNumber).
			Msg("rtp")
	case core.RTCPPackets:
		w.logger.Debug().
			Str("from", ev.Transport.RemoteAddr.String()).
			Int("packets", len(m.Packets)).
			Msg("rtcp")
	}
}

// handleBinding answers authenticated connectivity checks for known
// candidates, keyed by the STUN USERNAME, and remembers the address they
// came from.
func (w *Worker) handleBinding(ev core.TaggedMessageEvent, m *stun.Message) {
	from := ev.Transport.RemoteAddr
	c, err := w.orch.States.CandidateForBindingRequest(m)
	if err != nil {
		metrics.BindingRequestsTotal.WithLabelValues("unmatched").Inc()
		w.logger.Debug().Err(err).Str("from", from.String()).Msg("ignore stun message")
		return
	}
	metrics.BindingRequestsTotal.WithLabelValues("matched").Inc()

	if _, known := w.peers[from]; !known {
		w.logger.Info().
			Str("from", from.String()).
			Uint64("session_id", uint64(c.SessionID())).
			Uint64("endpoint_id", uint64(c.EndpointID())).
			Msg("peer address learned")
	}
	w.peers[from] = c.Username()

	resp, err := stun.Build(
		stun.NewTransactionIDSetter(m.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: from.Addr().Unmap().AsSlice(), Port: int(from.Port())},
		stun.NewShortTermIntegrity(c.LocalCredentials().ICE.Password),
		stun.Fingerprint,
	)
	if err != nil {
		w.logger.Error().Err(err).Msg("build binding response")
		return
	}
	if _, err := w.conn.WriteToUDPAddrPort(resp.Raw, from); err != nil {
		w.logger.Error().Err(err).Str("to", from.String()).Msg("write binding response")
	}
}

// handleTick only reports: candidates past their idle deadline are counted,
// not evicted.
func (w *Worker) handleTick(now time.Time) {
	states := w.orch.States
	port := w.orch.Port()
	metrics.Sessions.WithLabelValues(port).Set(float64(states.SessionCount()))
	metrics.Candidates.WithLabelValues(port).Set(float64(states.CandidateCount()))
	if expired := states.ExpiredCandidates(now); expired > 0 {
		w.logger.Debug().Int("expired", expired).Msg("idle candidates")
	}
}
