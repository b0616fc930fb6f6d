package isles

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// peerIOTimeout bounds how long a single socket read or write attempt may
// block the peer's event-loop goroutine on a given tick, so Run stays
// responsive to shutdown even while the socket is idle or slow.
const peerIOTimeout = 20 * time.Millisecond

const peerSocketChunk = 4096

// Peer is an Isle with one attached net.Conn, translating between
// COBS-framed bytes on the wire and Packets in the isle's own queues. Uses
// the same 4096-byte chunked buffering and framing as the wire protocol
// demands, with deadline-based reads and writes in place of a blocking
// select loop — each Peer runs on its own goroutine, so there is no shared
// loop to avoid blocking.
type Peer struct {
	*Isle

	conn net.Conn

	rxBuffer bytes.Buffer
	txBuffer bytes.Buffer

	closeErr error
}

// ClosedError reports why peerloop last stopped this isle, or nil if it is
// still running (or was stopped for some other reason, e.g. context
// cancellation). A *TransportClosed here means the remote end closed the
// socket.
func (p *Peer) ClosedError() error { return p.closeErr }

// NewPeer wraps an already-connected net.Conn as a Peer isle. The isle's
// per-tick loop and shutdown hooks are bound to the peer's own socket
// handling; callers should not supply WithLoop/WithShutdown in opts.
func NewPeer(conn net.Conn, opts ...Option) *Peer {
	p := &Peer{conn: conn}
	p.Isle = NewIsle("", opts...)
	p.Isle.loopFunc = p.peerloop
	p.Isle.shutdownFunc = func(*Isle) { p.conn.Close() }
	return p
}

// DialPeer connects to address over network and returns a Peer bound to the
// new connection.
func DialPeer(network, address string, opts ...Option) (*Peer, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewPeer(conn, opts...), nil
}

// RequestResponse shadows Isle.RequestResponse: a request whose next hop is
// the literal address "peer" bypasses the manager and is written straight
// to the socket, then busy-waits (pumping the socket itself rather than
// relying on the isle's own tick, which may be blocked elsewhere) for a
// reply frame carrying the same identifier. Any other frame read off the
// wire while waiting is not dropped: it is handed onward to the manager
// with this isle's id appended to Sender, the same way Peerthrough's tick
// forwards inbound frames.
func (p *Peer) RequestResponse(ctx context.Context, packet *Packet, timeout time.Duration) (interface{}, error) {
	if len(packet.Receiver) == 0 || packet.Receiver[len(packet.Receiver)-1] != "peer" {
		return p.Isle.RequestResponse(ctx, packet, timeout)
	}

	if timeout <= 0 {
		timeout = p.requestTimeout
	}

	identifier := packet.Identifier
	if err := p.addPacketToTXBuffer(packet); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)

	for {
		for {
			pkt, err := p.readPacketFromRXBuffer()
			if err != nil {
				return nil, err
			}
			if pkt == nil {
				break
			}
			if pkt.Identifier == identifier {
				data, _ := pkt.DataMap()
				if v, ok := data["return"]; ok {
					return v, nil
				}
				if e, ok := data["exception"]; ok {
					return nil, exceptionToError(e)
				}
				return nil, &MalformedPacketError{}
			}

			pkt.Sender = append(pkt.Sender, p.id)
			p.SendPacket(pkt)
		}

		if time.Now().After(deadline) {
			return nil, &TimeoutError{IsleID: p.id, Identifier: identifier, Receiver: packet.Receiver}
		}

		if _, err := p.socketSend(); err != nil && !isTimeoutErr(err) {
			return nil, err
		}
		if _, err := p.socketReceive(); err != nil && !isTimeoutErr(err) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.tickInterval):
		}
	}
}

func (p *Peer) addPacketToTXBuffer(packet *Packet) error {
	raw, err := packet.ToBytes()
	if err != nil {
		return err
	}

	encoded, err := cobsEncode(append(raw, 0))
	if err != nil {
		return err
	}

	p.txBuffer.Write(encoded)
	return nil
}

func (p *Peer) socketSend() (int, error) {
	chunk := p.txBuffer.Bytes()
	if len(chunk) > peerSocketChunk {
		chunk = chunk[:peerSocketChunk]
	}
	if len(chunk) == 0 {
		return 0, nil
	}

	_ = p.conn.SetWriteDeadline(time.Now().Add(peerIOTimeout))
	n, err := p.conn.Write(chunk)
	if n > 0 {
		remaining := append([]byte{}, p.txBuffer.Bytes()[n:]...)
		p.txBuffer.Reset()
		p.txBuffer.Write(remaining)
	}
	return n, err
}

func (p *Peer) socketReceive() (int, error) {
	buf := make([]byte, peerSocketChunk)
	_ = p.conn.SetReadDeadline(time.Now().Add(peerIOTimeout))
	n, err := p.conn.Read(buf)
	if n > 0 {
		p.rxBuffer.Write(buf[:n])
	}
	return n, err
}

// readPacketFromRXBuffer pulls the next complete COBS frame out of
// rxBuffer, decodes and deserializes it. It returns (nil, nil) when no full
// frame is buffered yet.
func (p *Peer) readPacketFromRXBuffer() (*Packet, error) {
	raw := p.rxBuffer.Bytes()
	idx := bytes.IndexByte(raw, 0)
	if idx < 0 {
		return nil, nil
	}

	framed := append([]byte{}, raw[:idx]...)
	rest := append([]byte{}, raw[idx+1:]...)
	p.rxBuffer.Reset()
	p.rxBuffer.Write(rest)

	decoded, err := cobsDecode(append(framed, 0))
	if err != nil {
		return nil, err
	}
	if len(decoded) == 0 {
		return nil, &MalformedPacketError{}
	}

	return PacketFromBytes(decoded[:len(decoded)-1])
}

// peerloop is installed as the isle's per-tick loop hook: drain whatever
// the socket will currently accept from txBuffer, then pull whatever is
// waiting into rxBuffer. A zero-byte read with no error or with io.EOF
// means the peer closed its end of the connection: that is recorded as a
// TransportClosed, logged, and stops this isle.
func (p *Peer) peerloop(i *Isle) {
	if p.txBuffer.Len() > 0 {
		n, err := p.socketSend()
		if err == nil && n == 0 {
			p.closeTransport(i)
			return
		}
		if err != nil && !isTimeoutErr(err) {
			i.Stop()
			return
		}
	}

	n, err := p.socketReceive()
	if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
		p.closeTransport(i)
		return
	}
	if err != nil && !isTimeoutErr(err) {
		i.Stop()
		return
	}
}

func (p *Peer) closeTransport(i *Isle) {
	closed := &TransportClosed{IsleID: i.id}
	p.closeErr = closed
	defaultLogger.Warn(closed.Error())
	i.Stop()
}

func isTimeoutErr(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
