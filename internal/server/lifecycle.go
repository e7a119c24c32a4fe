package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/metrics"
)

// ErrConnectionLost is returned by Manager.Run when the coordinator connection
// failed underneath a running worker.
var ErrConnectionLost = errors.New("coordinator connection lost")

// State is the lifecycle state of the coordinator connection.
type State int32

// Lifecycle states, in the only order they may be entered.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Level selects how aggressively to shut down.
type Level int

// Shutdown levels.
const (
	// Soft lets the in-flight job finish and report before closing.
	Soft Level = iota + 1
	// Hard closes immediately without waiting for in-flight work.
	Hard
)

func (l Level) String() string {
	if l == Hard {
		return "hard"
	}
	return "soft"
}

// Connection is the live link to the coordinator.
type Connection interface {
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Queue is the claim loop driven by the manager.
type Queue interface {
	Run(ctx context.Context) error
	Drain()
	Done() <-chan struct{}
}

// DialFunc opens the coordinator connection and completes its handshake.
type DialFunc func(ctx context.Context) (Connection, error)

// StartFunc prepares a connected session: it subscribes and returns the queue
// plus a blocking observe function. Both run until ctx ends.
type StartFunc func(ctx context.Context, conn Connection) (Queue, func(ctx context.Context), error)

// Manager owns the connection lifecycle and shutdown sequencing.
type Manager struct {
	dial   DialFunc
	start  StartFunc
	logger *zap.Logger

	state    atomic.Int32
	soft     chan struct{}
	hard     chan struct{}
	hardOnce sync.Once
	runOnce  sync.Once
}

// NewManager constructs a Manager in the Disconnected state.
func NewManager(dial DialFunc, start StartFunc, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		dial:   dial,
		start:  start,
		logger: logger,
		soft:   make(chan struct{}, 1),
		hard:   make(chan struct{}),
	}
	metrics.SetConnectionState("", StateDisconnected.String())
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Ready reports the state name and whether it is Connected.
func (m *Manager) Ready() (string, bool) {
	s := m.State()
	return s.String(), s == StateConnected
}

// Shutdown requests a soft or hard shutdown. It never blocks and may be called
// from any goroutine; repeated or superseded requests are ignored.
func (m *Manager) Shutdown(level Level) {
	if m.State() == StateClosed {
		return
	}
	if level == Hard {
		m.hardOnce.Do(func() { close(m.hard) })
		return
	}
	select {
	case m.soft <- struct{}{}:
	default:
	}
}

func (m *Manager) setState(next State) {
	prev := State(m.state.Swap(int32(next)))
	if prev == next {
		return
	}
	metrics.SetConnectionState(prev.String(), next.String())
	m.logger.Info("lifecycle state changed", zap.Stringer("from", prev), zap.Stringer("to", next))
}

// Run connects, starts the session, and blocks until it is shut down. A soft
// shutdown returns nil after the queue drains; a hard shutdown returns nil
// immediately; a transport failure returns ErrConnectionLost.
func (m *Manager) Run(ctx context.Context) error {
	err := errors.New("manager already ran")
	m.runOnce.Do(func() { err = m.run(ctx) })
	return err
}

func (m *Manager) run(ctx context.Context) error {
	m.setState(StateConnecting)
	conn, err := m.dial(ctx)
	if err != nil {
		m.setState(StateClosed)
		return fmt.Errorf("connect: %w", err)
	}
	m.setState(StateConnected)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue, observe, err := m.start(sessionCtx, conn)
	if err != nil {
		m.setState(StateClosed)
		m.closeConn(conn)
		return fmt.Errorf("start session: %w", err)
	}

	go func() {
		if err := queue.Run(sessionCtx); err != nil {
			m.logger.Error("queue stopped", zap.Error(err))
		}
	}()
	go observe(sessionCtx)

	for {
		select {
		case <-m.hard:
			m.logger.Warn("hard shutdown requested")
			m.closeNow(cancel, conn)
			return nil
		case <-m.soft:
			if m.State() == StateConnected {
				m.logger.Info("soft shutdown requested, draining")
				m.setState(StateDraining)
				queue.Drain()
			}
		case <-queue.Done():
			m.logger.Info("queue drained, closing connection")
			m.setState(StateClosed)
			cancel()
			m.closeConn(conn)
			return nil
		case <-conn.Done():
			cause := conn.Err()
			m.logger.Error("coordinator connection lost", zap.Error(cause))
			m.closeNow(cancel, conn)
			if cause == nil {
				return ErrConnectionLost
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, cause)
		case <-ctx.Done():
			m.closeNow(cancel, conn)
			return nil
		}
	}
}

// closeNow enters Closed before the connection is torn down so no report can
// be attempted on a half-closed session.
func (m *Manager) closeNow(cancel context.CancelFunc, conn Connection) {
	m.setState(StateClosed)
	cancel()
	m.closeConn(conn)
}

func (m *Manager) closeConn(conn Connection) {
	if err := conn.Close(); err != nil {
		m.logger.Warn("connection close failed", zap.Error(err))
	}
}
