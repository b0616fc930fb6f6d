package isles

import (
	"context"
	"os"
	"testing"
	"time"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	path := t.TempDir() + "/log.txt"
	return NewManager(WithLogPath(path), WithManagerTickInterval(time.Millisecond))
}

func TestManagerRoutesPacketBetweenIsles(t *testing.T) {
	m := testManager(t)

	var received *Packet
	done := make(chan struct{})

	receiver := NewIsle("receiver")
	receiver.RegisterRoute("ping", func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return "pong", nil
	})

	sender := NewIsle("sender", WithLoop(func(i *Isle) {
		select {
		case <-done:
		default:
			close(done)
			reply, err := i.Call("receiver", "ping").Do(context.Background(), nil, nil)
			if err == nil {
				received = &Packet{Data: reply}
			}
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.AddIsle(ctx, receiver); err != nil {
		t.Fatalf("AddIsle(receiver): %v", err)
	}
	if err := m.AddIsle(ctx, sender); err != nil {
		t.Fatalf("AddIsle(sender): %v", err)
	}

	go func() { _ = m.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for received == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if received == nil {
		t.Fatal("expected sender to receive a reply routed through the manager")
	}
	if received.Data != "pong" {
		t.Errorf("got %v, want pong", received.Data)
	}
}

func TestManagerUnknownDestinationReply(t *testing.T) {
	m := testManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lonely := NewIsle("lonely")
	if err := m.AddIsle(ctx, lonely); err != nil {
		t.Fatalf("AddIsle: %v", err)
	}

	lonely.Connection().OwnerSend(NewPacket([]string{"lonely"}, []string{"ghost"}, nil))

	m.routeOnce()

	reply, ok := lonely.Connection().OwnerReceive()
	if !ok {
		t.Fatal("expected an unknown-destination reply routed back to the sender")
	}
	data, ok := reply.DataMap()
	if !ok {
		t.Fatalf("expected a mapping reply, got %#v", reply.Data)
	}
	wantMsg := (&UnknownDestinationError{Destination: "ghost"}).Error()
	if data["exception"] != wantMsg {
		t.Errorf("got %v, want %v", data["exception"], wantMsg)
	}
}

func TestManagerRejectsDuplicateIsleID(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	if err := m.AddIsle(ctx, NewIsle("dup")); err != nil {
		t.Fatalf("first AddIsle: %v", err)
	}
	if err := m.AddIsle(ctx, NewIsle("dup")); err == nil {
		t.Fatal("expected an error on a colliding isle id")
	}
}

func TestManagerShutdownJoinsIsles(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewIsle("worker")
	if err := m.AddIsle(ctx, worker); err != nil {
		t.Fatalf("AddIsle: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	// give the routing loop a moment to start before asking it to stop.
	time.Sleep(20 * time.Millisecond)

	worker.Connection().OwnerSend(NewPacket([]string{"worker"}, []string{m.ID()}, map[string]interface{}{"command": "shutdown"}))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not shut down in time")
	}

	if worker.Running() {
		t.Error("expected worker isle to have stopped")
	}

	if _, err := os.Stat(m.log.path); err != nil {
		t.Errorf("expected log file to exist: %v", err)
	}
}
