package isles

import (
	"context"
	"testing"
	"time"
)

func TestTempIsleEnterLeave(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	worker := NewIsle("worker")
	worker.RegisterRoute("echo", func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return args[0], nil
	})
	if err := m.AddIsle(ctx, worker); err != nil {
		t.Fatalf("AddIsle: %v", err)
	}

	go func() { _ = m.Start(ctx) }()

	temp := m.NewTempIsle()
	if err := temp.Enter(); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer temp.Leave()

	req := temp.CreatePacket([]string{"echo", "worker"}, map[string]interface{}{
		"args": []interface{}{"hi"}, "kwargs": map[string]interface{}{},
	})

	value, err := temp.RequestResponse(ctx, req, 2*time.Second)
	if err != nil {
		t.Fatalf("RequestResponse: %v", err)
	}
	if value != "hi" {
		t.Errorf("got %v, want hi", value)
	}

	temp.Leave()

	m.mu.Lock()
	_, stillThere := m.isles[temp.ID()]
	m.mu.Unlock()
	if stillThere {
		t.Error("expected Leave to remove the temp isle from membership")
	}
}

func TestTempIsleEnterTwiceIsIdempotent(t *testing.T) {
	m := testManager(t)
	temp := m.NewTempIsle()

	if err := temp.Enter(); err != nil {
		t.Fatalf("first Enter: %v", err)
	}
	if err := temp.Enter(); err != nil {
		t.Fatalf("second Enter should be a no-op, got: %v", err)
	}
	temp.Leave()
}
