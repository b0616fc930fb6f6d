package isles

import (
	"net"
	"testing"
	"time"
)

func TestPeerFramesPacketOverSocket(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	peer := NewPeer(serverConn)
	defer peer.conn.Close()

	sent := NewPacket([]string{"a"}, []string{"b"}, map[string]interface{}{"return": "ok"})
	raw, err := sent.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	encoded, err := cobsEncode(append(raw, 0))
	if err != nil {
		t.Fatalf("cobsEncode: %v", err)
	}

	go func() { _, _ = clientConn.Write(encoded) }()

	var got *Packet
	deadline := time.Now().Add(2 * time.Second)
	for got == nil && time.Now().Before(deadline) {
		if _, err := peer.socketReceive(); err != nil && !isTimeoutErr(err) {
			t.Fatalf("socketReceive: %v", err)
		}
		got, err = peer.readPacketFromRXBuffer()
		if err != nil {
			t.Fatalf("readPacketFromRXBuffer: %v", err)
		}
	}

	if got == nil {
		t.Fatal("expected to read the framed packet back out")
	}
	if got.Identifier != sent.Identifier {
		t.Errorf("identifier: got %q, want %q", got.Identifier, sent.Identifier)
	}
	data, _ := got.DataMap()
	if data["return"] != "ok" {
		t.Errorf("got %v", data)
	}
}

func TestPeerAddPacketToTXBufferThenSocketSend(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	peer := NewPeer(serverConn)
	defer peer.conn.Close()

	pkt := NewPacket([]string{"a"}, []string{"b"}, "shutdown")
	if err := peer.addPacketToTXBuffer(pkt); err != nil {
		t.Fatalf("addPacketToTXBuffer: %v", err)
	}
	if peer.txBuffer.Len() == 0 {
		t.Fatal("expected txBuffer to hold the encoded frame")
	}

	readBuf := make([]byte, 4096)
	n := 0
	done := make(chan struct{})
	go func() {
		n, _ = clientConn.Read(readBuf)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sent, err := peer.socketSend()
		if err != nil && !isTimeoutErr(err) {
			t.Fatalf("socketSend: %v", err)
		}
		if sent > 0 {
			break
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed the write")
	}

	if n == 0 {
		t.Fatal("expected the client to read the encoded frame")
	}
}
