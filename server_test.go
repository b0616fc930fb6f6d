package isles

import (
	"net"
	"testing"
	"time"
)

func TestServerEmitsAddIsleOnAccept(t *testing.T) {
	server, err := NewServer("tcp", "127.0.0.1:0", "islemanager", nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer server.listener.Close()

	conn, err := net.Dial("tcp", server.listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	var got *Packet
	for got == nil && time.Now().Before(deadline) {
		server.loop(server.Isle)
		if pkt, ok := server.Connection().RouterReceive(); ok {
			got = pkt
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got == nil {
		t.Fatal("expected an addIsle packet after accepting a connection")
	}

	data, ok := got.DataMap()
	if !ok {
		t.Fatalf("expected mapping data, got %#v", got.Data)
	}
	if data["command"] != "addIsle" {
		t.Errorf("got command %v, want addIsle", data["command"])
	}
	if _, ok := data["isle"].(*Isle); !ok {
		t.Errorf("expected a live *Isle under \"isle\", got %T", data["isle"])
	}
	if len(got.Receiver) != 1 || got.Receiver[0] != "islemanager" {
		t.Errorf("got receiver %v, want [islemanager]", got.Receiver)
	}
}
