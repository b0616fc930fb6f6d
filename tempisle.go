package isles

import (
	"context"
	"time"
)

// TempIsle lets a foreign execution context — a request handler, a test, a
// goroutine that isn't itself an Isle — borrow manager-routed messaging for
// the span of one scope, without owning a dedicated event-loop goroutine.
// Enter registers a Connection directly into the Manager's membership map;
// Leave removes it. There is no Run call: the caller's own goroutine is the
// "thread", so membership bookkeeping is all that's needed. A shutdown
// packet the Manager queues for it at stop is not acted on.
type TempIsle struct {
	id         string
	manager    *Manager
	connection *Connection
	entered    bool
}

func newTempIsle(m *Manager, opts ...Option) *TempIsle {
	scratch := NewIsle("", opts...)

	return &TempIsle{
		id:         scratch.ID(),
		manager:    m,
		connection: scratch.Connection(),
	}
}

// ID returns the temporary isle's identifier.
func (t *TempIsle) ID() string { return t.id }

// Enter admits the temporary isle into the manager's membership. Calling
// Enter again without an intervening Leave is a no-op.
func (t *TempIsle) Enter() error {
	t.manager.mu.Lock()
	defer t.manager.mu.Unlock()

	if t.entered {
		return nil
	}

	if err := t.manager.addMembershipLocked(t.id, t.connection); err != nil {
		return err
	}

	t.entered = true
	return nil
}

// Leave withdraws the temporary isle from the manager's membership. It is
// safe to call Leave without a prior Enter, or more than once.
func (t *TempIsle) Leave() {
	t.manager.mu.Lock()
	defer t.manager.mu.Unlock()

	if !t.entered {
		return
	}

	t.manager.removeMembershipLocked(t.id)
	t.entered = false
}

// CreatePacket builds a Packet addressed to receiver, sent from this
// temporary isle.
func (t *TempIsle) CreatePacket(receiver []string, data interface{}) *Packet {
	return NewPacket([]string{t.id}, receiver, data)
}

// SendPacket enqueues p toward the Manager.
func (t *TempIsle) SendPacket(p *Packet) {
	t.connection.OwnerSend(p)
}

// RequestResponse sends p toward the Manager and waits for a matching
// reply, exactly as Isle.RequestResponse, reusing the same side-buffer
// technique via a throwaway Isle bound to this TempIsle's Connection.
func (t *TempIsle) RequestResponse(ctx context.Context, p *Packet, timeout time.Duration) (interface{}, error) {
	proxy := &Isle{
		id:             t.id,
		connection:     t.connection,
		requestTimeout: timeout,
		tickInterval:   10 * time.Millisecond,
	}
	if timeout <= 0 {
		proxy.requestTimeout = 3 * time.Second
	}
	return proxy.RequestResponse(ctx, p, timeout)
}

// WithTempIsle runs fn with a freshly entered TempIsle, guaranteeing Leave
// is called even if fn panics.
func WithTempIsle(m *Manager, fn func(*TempIsle) error) error {
	t := m.NewTempIsle()
	if err := t.Enter(); err != nil {
		return err
	}
	defer t.Leave()

	return fn(t)
}
