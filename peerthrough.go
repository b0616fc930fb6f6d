package isles

import "net"

// Peerthrough is a Peer that also proxies packets between the manager and
// the remote peer on the other end of its socket: packets routed through
// it from other isles are forwarded out over the wire, and packets that
// arrive over the wire are handed to the manager as if the remote peer
// itself were speaking through this isle.
type Peerthrough struct {
	*Peer
}

// NewPeerthrough wraps conn as a Peerthrough isle.
func NewPeerthrough(conn net.Conn, opts ...Option) *Peerthrough {
	pt := &Peerthrough{Peer: NewPeer(conn, opts...)}
	pt.Isle.loopFunc = pt.tick
	pt.Isle.unhandledFunc = pt.onReceivePacket
	return pt
}

// onReceivePacket is the Isle's forwarding hook, consulted before any other
// dispatch (so replies in transit are forwarded rather than taken for late
// replies): a packet addressed through this isle to a further hop is
// forwarded out over the socket, with this isle's own hop popped off
// Receiver, exactly as a router advancing a multi-hop address. A packet
// with nothing left past this isle (a single-hop address naming
// Peerthrough itself) is not forwarded; it goes through the isle's regular
// dispatch like any other unclaimed packet.
//
// A packet carrying a live isle reference (an addIsle control packet) is
// never forwarded: such packets only ever make sense within this process,
// and Isle carries no exported fields for json to serialize in the first
// place.
func (pt *Peerthrough) onReceivePacket(pkt *Packet) bool {
	if len(pkt.Receiver) < 2 || pkt.Receiver[len(pkt.Receiver)-1] != pt.ID() {
		return false
	}

	if data, ok := pkt.DataMap(); ok {
		if _, isLiveIsle := data["isle"]; isLiveIsle {
			return false
		}
	}

	forwarded := pkt.Copy()
	forwarded.Receiver = forwarded.Receiver[:len(forwarded.Receiver)-1]

	_ = pt.addPacketToTXBuffer(forwarded)
	return true
}

// tick is installed as the isle's per-tick loop hook: first the inherited
// socket I/O (peerloop), then drain any complete frames out of rxBuffer and
// hand them to the manager with this isle's own id appended to Sender, so a
// reply routes back the way it came.
func (pt *Peerthrough) tick(i *Isle) {
	pt.peerloop(i)

	for {
		pkt, err := pt.readPacketFromRXBuffer()
		if err != nil || pkt == nil {
			return
		}

		pkt.Sender = append(pkt.Sender, pt.ID())
		pt.SendPacket(pkt)
	}
}
