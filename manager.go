package isles

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultManagerID is the manager identifier used when no ManagerOption
// overrides it, while still letting a deployment with more than one
// manager pick its own.
const DefaultManagerID = "islemanager"

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithManagerID overrides the manager's own routing identifier.
func WithManagerID(id string) ManagerOption {
	return func(m *Manager) { m.id = id }
}

// WithLogPath overrides the log file path (default "log.txt").
func WithLogPath(path string) ManagerOption {
	return func(m *Manager) { m.log = newLogSink(path, m.log.logger) }
}

// WithLogger overrides the logrus.Logger the manager mirrors routed
// packets and warnings to.
func WithLogger(logger *logrus.Logger) ManagerOption {
	return func(m *Manager) { m.log = newLogSink(m.log.path, logger) }
}

// WithManagerTickInterval overrides the routing loop's cooperative-yield
// interval (default 10ms).
func WithManagerTickInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.tickInterval = d }
}

type membership struct {
	connection *Connection
	cancel     context.CancelFunc
	done       chan struct{}
	hasThread  bool
}

// Manager is the single router coordinating all isles, their membership,
// and shutdown. It owns the routing loop (run on whichever goroutine calls
// Start) and a mutex-protected membership map shared with TempIsle.
type Manager struct {
	id string

	mu               sync.Mutex
	isles            map[string]*membership
	pendingAdditions []*Isle

	log          *logSink
	tickInterval time.Duration

	running atomic.Bool

	ctx       context.Context
	stopSig   chan struct{}
	signalled bool
}

// NewManager constructs a Manager. Log lines are appended to "log.txt" in
// the working directory unless WithLogPath overrides it.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		id:           DefaultManagerID,
		isles:        map[string]*membership{},
		log:          newLogSink("log.txt", defaultLogger),
		tickInterval: 10 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ID returns the manager's own routing identifier.
func (m *Manager) ID() string { return m.id }

// AddIsle admits isle into the membership, spawning its event loop on a
// fresh goroutine under ctx. Identifier collisions are rejected with an
// error rather than silently overwriting the existing membership entry.
func (m *Manager) AddIsle(ctx context.Context, isle *Isle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addIsleLocked(ctx, isle)
}

func (m *Manager) addIsleLocked(ctx context.Context, isle *Isle) error {
	if _, exists := m.isles[isle.ID()]; exists {
		return fmt.Errorf("isle %q is already registered", isle.ID())
	}

	childCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.isles[isle.ID()] = &membership{
		connection: isle.Connection(),
		cancel:     cancel,
		done:       done,
		hasThread:  true,
	}

	go func() {
		defer close(done)
		isle.Run(childCtx)
	}()

	return nil
}

// addMembershipLocked registers a Connection with no owning goroutine —
// used by TempIsle, whose "thread" is the caller's own foreign context.
func (m *Manager) addMembershipLocked(id string, connection *Connection) error {
	if _, exists := m.isles[id]; exists {
		return fmt.Errorf("isle %q is already registered", id)
	}

	m.isles[id] = &membership{connection: connection, hasThread: false}
	return nil
}

func (m *Manager) removeMembershipLocked(id string) {
	delete(m.isles, id)
}

// NewTempIsle returns a scoped isle a foreign goroutine can use to borrow
// messaging capability; see tempisle.go.
func (m *Manager) NewTempIsle(opts ...Option) *TempIsle {
	return newTempIsle(m, opts...)
}

// InstallSignalHandler wires SIGINT to flip Manager's running flag. This is
// opt-in: Start never calls it implicitly, so a test driving a Manager
// never installs a process-wide handler by accident.
func (m *Manager) InstallSignalHandler() {
	if m.signalled {
		return
	}
	m.signalled = true

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	go func() {
		<-sigCh
		m.running.Store(false)
	}()
}

// Start runs the manager's routing loop on the calling goroutine until its
// running flag is cleared (by a shutdown command packet, InstallSignalHandler,
// or ctx being cancelled), then runs the shutdown sequence and returns
// only once every admitted isle has terminated.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx = ctx
	m.running.Store(true)

	for m.running.Load() {
		select {
		case <-ctx.Done():
			m.running.Store(false)
		default:
		}

		m.routeOnce()

		time.Sleep(m.tickInterval)
	}

	return m.stop()
}

// routeOnce performs one pass of the routing loop body: for every isle,
// drain its outbound connection, log each packet, and dispatch it — either
// to this manager's own command handler, to the isle named by the tail of
// Receiver, or (if that destination is unknown) back to the sender as a
// synthesized exception reply. The manager never mutates Sender or
// Receiver itself; only a router like Peerthrough pops its own hop.
// Admission of pending isles happens last, under the same lock, so a
// TempIsle never observes a partially-added peer.
func (m *Manager) routeOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mem := range m.isles {
		for {
			pkt, ok := mem.connection.RouterReceive()
			if !ok {
				break
			}

			m.log.Write(pkt)

			if data, isMap := pkt.DataMap(); isMap {
				if _, hasException := data["exception"]; hasException {
					_ = m.log.Flush()
				}
			}

			if len(pkt.Receiver) == 0 {
				continue
			}

			destination := pkt.Receiver[len(pkt.Receiver)-1]

			switch {
			case destination == m.id:
				m.handleManagerPacket(pkt)
			default:
				if dest, known := m.isles[destination]; known {
					dest.connection.RouterSend(pkt)
				} else {
					reply := pkt.Reply(map[string]interface{}{
						"exception": (&UnknownDestinationError{Destination: destination}).Error(),
					})
					reply.Sender = []string{m.id}
					m.log.Write(reply)
					mem.connection.RouterSend(reply)
				}
			}
		}

		_ = m.log.Flush()
	}

	for _, isle := range m.pendingAdditions {
		if err := m.addIsleLocked(m.ctx, isle); err != nil {
			m.log.logger.WithError(err).Error("isles: could not admit pending isle")
		}
	}
	m.pendingAdditions = nil
}

// handleManagerPacket interprets a command packet addressed to the manager
// itself: "shutdown" flips running; "addIsle" defers admission to the end
// of the current routeOnce pass, under the same lock the routing loop
// already holds.
func (m *Manager) handleManagerPacket(pkt *Packet) {
	data, ok := pkt.DataMap()
	if !ok {
		return
	}

	command, _ := data["command"].(string)

	switch command {
	case "shutdown":
		m.running.Store(false)
	case "addIsle":
		isle, ok := data["isle"].(*Isle)
		if !ok {
			m.log.logger.Error("isles: addIsle command missing a live isle instance")
			return
		}
		m.pendingAdditions = append(m.pendingAdditions, isle)
	default:
		m.log.logger.WithField("command", command).Warn("isles: unrecognized manager command")
	}
}

// stop runs the shutdown sequence: flush the log, deliver a shutdown
// packet to every registered isle, flush again, then join every
// goroutine-backed isle (TempIsles, which have no goroutine, are skipped).
func (m *Manager) stop() error {
	_ = m.log.Flush()

	m.mu.Lock()
	memberships := make(map[string]*membership, len(m.isles))
	for id, mem := range m.isles {
		memberships[id] = mem

		shutdownPacket := NewPacket([]string{m.id}, []string{id}, "shutdown")
		m.log.Write(shutdownPacket)
		mem.connection.RouterSend(shutdownPacket)
	}
	m.mu.Unlock()

	_ = m.log.Flush()

	for _, mem := range memberships {
		if mem.hasThread {
			<-mem.done
		}
	}

	return nil
}
