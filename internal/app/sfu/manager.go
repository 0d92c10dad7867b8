package sfu

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/sfu/internal/app/orch"
	"github.com/dkeye/sfu/internal/domain"
)

var ErrNoRoute = errors.New("no media worker for session")

type route interface {
	Signals() chan<- orch.SignalingMessage
	State() WorkerState
}

// Manager routes signaling requests to the media worker that owns a
// session. The set of ports is fixed; a port whose worker is missing or
// stopped has no route.
type Manager struct {
	ports []uint16

	mu      sync.RWMutex
	workers map[uint16]route
	wg      sync.WaitGroup
}

func NewManager(ports []uint16) *Manager {
	sorted := slices.Clone(ports)
	slices.Sort(sorted)
	return &Manager{
		ports:   slices.Compact(sorted),
		workers: make(map[uint16]route),
	}
}

func (m *Manager) Ports() []uint16 { return slices.Clone(m.ports) }

// StartWorker registers w under its port and runs it until ctx is done.
func (m *Manager) StartWorker(ctx context.Context, w *Worker) {
	port := w.Port()
	m.mu.Lock()
	if _, ok := m.workers[port]; ok {
		log.Warn().Str("module", "app.sfu").Uint16("port", port).Msg("replacing existing worker for port")
	}
	m.workers[port] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.Run(ctx)
		m.remove(port, w)
	}()
}

func (m *Manager) remove(port uint16, w route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workers[port] == w {
		delete(m.workers, port)
	}
}

// Wait blocks until every started worker returned.
func (m *Manager) Wait() { m.wg.Wait() }

// PortFor is the media port serving sid.
func (m *Manager) PortFor(sid domain.SessionID) (uint16, error) {
	if len(m.ports) == 0 {
		return 0, ErrNoRoute
	}
	return m.ports[uint64(sid)%uint64(len(m.ports))], nil
}

func (m *Manager) route(sid domain.SessionID) (route, error) {
	port, err := m.PortFor(sid)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	w, ok := m.workers[port]
	m.mu.RUnlock()
	if !ok || w.State() == WorkerStateStopped {
		return nil, fmt.Errorf("%w %d (port %d)", ErrNoRoute, sid, port)
	}
	return w, nil
}

// Submit sends req to the owning worker and waits for its single reply.
func (m *Manager) Submit(ctx context.Context, req orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
	w, err := m.route(req.SessionID)
	if err != nil {
		return orch.SignalingProtocolMessage{}, err
	}

	msg, reply := orch.NewSignalingMessage(ctx, req)
	select {
	case w.Signals() <- msg:
	case <-ctx.Done():
		return orch.SignalingProtocolMessage{}, ctx.Err()
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return orch.SignalingProtocolMessage{}, ctx.Err()
	}
}
