package isles

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Packet is the addressed, correlatable unit of work that flows between
// isles. Receiver is ordered final-destination-first, next-hop-last: the
// last element is always the hop that should act on the packet next. A
// router other than the Manager pops that tail element off and appends its
// own id to Sender before forwarding (see Peerthrough); the Manager itself
// never mutates Sender or Receiver, it only inspects the tail to decide
// where to deliver.
//
// Data is intentionally typed as interface{} rather than
// map[string]interface{}: the payload model is recursively any of null,
// boolean, integer, float, string, ordered sequence, or a mapping from
// string to value, and the shutdown envelope convention is the bare string
// "shutdown" rather than a mapping — a map-only Data field could not carry
// that. DataMap is the convenience accessor for the much more common case
// where Data is a mapping.
type Packet struct {
	Identifier string      `json:"identifier"`
	Sender     []string    `json:"sender"`
	Receiver   []string    `json:"receiver"`
	Data       interface{} `json:"data"`
}

// NewPacket builds a Packet with a freshly generated identifier.
func NewPacket(sender, receiver []string, data interface{}) *Packet {
	return NewPacketWithID(newIdentifier(), sender, receiver, data)
}

// NewPacketWithID builds a Packet carrying a caller-supplied identifier,
// used when reconstructing a Packet that must keep its original identity
// (replies, wire decoding). An empty identifier is replaced by a freshly
// generated one.
func NewPacketWithID(identifier string, sender, receiver []string, data interface{}) *Packet {
	if identifier == "" {
		identifier = newIdentifier()
	}
	return &Packet{
		Identifier: identifier,
		Sender:     sender,
		Receiver:   receiver,
		Data:       data,
	}
}

// Reply derives a response Packet: sender and receiver are swapped, the
// identifier is inherited so the caller can correlate it, and data is the
// caller-supplied reply payload.
func (p *Packet) Reply(data interface{}) *Packet {
	return NewPacketWithID(p.Identifier, p.Receiver, p.Sender, data)
}

// DataMap returns Data as a map[string]interface{} when it is one
// (true for every envelope convention except the bare-string shutdown
// command), or (nil, false) otherwise.
func (p *Packet) DataMap() (map[string]interface{}, bool) {
	m, ok := p.Data.(map[string]interface{})
	return m, ok
}

// Copy returns a shallow copy of the Packet with freshly allocated Sender
// and Receiver slices, so a router can pop/append without mutating a
// Packet instance another router may still be holding.
func (p *Packet) Copy() *Packet {
	sender := make([]string, len(p.Sender))
	copy(sender, p.Sender)
	receiver := make([]string, len(p.Receiver))
	copy(receiver, p.Receiver)

	return &Packet{
		Identifier: p.Identifier,
		Sender:     sender,
		Receiver:   receiver,
		Data:       p.Data,
	}
}

// ToMap returns the mapping representation of the Packet.
func (p *Packet) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"identifier": p.Identifier,
		"sender":     p.Sender,
		"receiver":   p.Receiver,
		"data":       p.Data,
	}
}

// packetWire is the on-the-wire field ordering: identifier, sender,
// receiver, data, with no insignificant whitespace. It exists separately
// from Packet so that the exported type is free to grow fields later
// without disturbing the wire contract.
type packetWire struct {
	Identifier string      `json:"identifier"`
	Sender     []string    `json:"sender"`
	Receiver   []string    `json:"receiver"`
	Data       interface{} `json:"data"`
}

// ToJSON returns the canonical JSON text representation: key order
// identifier, sender, receiver, data, no insignificant whitespace.
func (p *Packet) ToJSON() (string, error) {
	b, err := p.ToBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToBytes returns the UTF-8 bytes of ToJSON.
func (p *Packet) ToBytes() ([]byte, error) {
	w := packetWire{
		Identifier: p.Identifier,
		Sender:     p.Sender,
		Receiver:   p.Receiver,
		Data:       p.Data,
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}

	// json.Encoder.Encode always appends a trailing newline; trim it so
	// the byte representation is exactly the compact JSON text with no
	// insignificant whitespace.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// PacketFromMap reconstructs a Packet from its mapping representation.
func PacketFromMap(m map[string]interface{}) (*Packet, error) {
	identifier, _ := m["identifier"].(string)

	sender, err := stringSlice(m["sender"])
	if err != nil {
		return nil, fmt.Errorf("packet: sender: %w", err)
	}

	receiver, err := stringSlice(m["receiver"])
	if err != nil {
		return nil, fmt.Errorf("packet: receiver: %w", err)
	}

	return NewPacketWithID(identifier, sender, receiver, m["data"]), nil
}

// PacketFromJSON reconstructs a Packet from its JSON text representation.
func PacketFromJSON(text string) (*Packet, error) {
	return PacketFromBytes([]byte(text))
}

// PacketFromBytes reconstructs a Packet from its UTF-8 byte representation.
func PacketFromBytes(b []byte) (*Packet, error) {
	var w packetWire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, &MalformedPacketError{Cause: err}
	}

	return NewPacketWithID(w.Identifier, w.Sender, w.Receiver, w.Data), nil
}

func stringSlice(v interface{}) ([]string, error) {
	if v == nil {
		return nil, nil
	}

	switch t := v.(type) {
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string", i)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a string sequence, got %T", v)
	}
}
