package isles

import "testing"

func TestConnectionFIFO(t *testing.T) {
	c := NewConnection()

	p1 := NewPacket(nil, nil, 1.0)
	p2 := NewPacket(nil, nil, 2.0)
	c.OwnerSend(p1)
	c.OwnerSend(p2)

	got1, ok := c.RouterReceive()
	if !ok || got1 != p1 {
		t.Fatalf("expected p1 first")
	}
	got2, ok := c.RouterReceive()
	if !ok || got2 != p2 {
		t.Fatalf("expected p2 second")
	}

	if _, ok := c.RouterReceive(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestConnectionOwnerRequeuePreservesOrder(t *testing.T) {
	c := NewConnection()

	a := NewPacket(nil, nil, "a")
	b := NewPacket(nil, nil, "b")
	c.RouterSend(b)
	c.OwnerRequeue(a)

	got, ok := c.OwnerReceive()
	if !ok || got != a {
		t.Fatalf("expected requeued packet a first")
	}
	got, ok = c.OwnerReceive()
	if !ok || got != b {
		t.Fatalf("expected original packet b second")
	}
}

func TestConnectionEmptyPollIsAbsent(t *testing.T) {
	c := NewConnection()
	if _, ok := c.OwnerReceive(); ok {
		t.Fatal("expected (nil, false) on empty queue")
	}
}
