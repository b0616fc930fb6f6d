package isles

import "sync"

// queue is an unbounded FIFO of Packets safe for a single producer and a
// single consumer running concurrently. It additionally supports
// PushFront, which a Go channel cannot express and which Connection needs
// for the request/response side-buffer.
type queue struct {
	mu    sync.Mutex
	items []*Packet
}

func (q *queue) push(p *Packet) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

// pushFront re-inserts packets at the head of the queue, in order, so a
// caller that peeked ahead (and didn't want what it found) can give the
// packets back without losing FIFO order for anyone polling afterward.
func (q *queue) pushFront(packets ...*Packet) {
	if len(packets) == 0 {
		return
	}

	q.mu.Lock()
	q.items = append(append([]*Packet{}, packets...), q.items...)
	q.mu.Unlock()
}

// poll returns the oldest Packet, or (nil, false) if the queue is empty.
func (q *queue) poll() (*Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// Connection is the bidirectional pair of packet queues shared between one
// isle and the Manager. toManager is producer=isle, consumer=manager;
// toOwner is producer=manager, consumer=isle.
type Connection struct {
	toManager queue
	toOwner   queue
}

// NewConnection returns a Connection with both queues empty.
func NewConnection() *Connection {
	return &Connection{}
}

// OwnerSend enqueues a Packet from the isle toward the manager.
func (c *Connection) OwnerSend(p *Packet) {
	c.toManager.push(p)
}

// OwnerReceive polls the isle's inbound queue; returns (nil, false) when
// empty.
func (c *Connection) OwnerReceive() (*Packet, bool) {
	return c.toOwner.poll()
}

// OwnerRequeue re-inserts packets at the head of the isle's inbound queue,
// preserving order, for the request/response side-buffer.
func (c *Connection) OwnerRequeue(packets ...*Packet) {
	c.toOwner.pushFront(packets...)
}

// RouterSend enqueues a Packet from the manager toward the isle.
func (c *Connection) RouterSend(p *Packet) {
	c.toOwner.push(p)
}

// RouterReceive polls the manager's inbound queue for this connection;
// returns (nil, false) when empty.
func (c *Connection) RouterReceive() (*Packet, bool) {
	return c.toManager.poll()
}
