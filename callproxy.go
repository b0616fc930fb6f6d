package isles

import (
	"context"
	"time"
)

// Caller builds a multi-hop request address without attribute-lookup
// overloading (Go has none): the hop path is given explicitly, read
// left-to-right in the same order a dotted call chain would read —
// isle.Call("A", "B", "C") means "route through A, then B, to C".
type Caller struct {
	isle    *Isle
	path    []string
	timeout time.Duration
}

func newCaller(i *Isle, path []string) *Caller {
	return &Caller{isle: i, path: path, timeout: i.requestTimeout}
}

// Timeout overrides the request/response deadline for this call.
func (c *Caller) Timeout(d time.Duration) *Caller {
	c.timeout = d
	return c
}

// receiver reverses the caller-first path into the wire's
// final-destination-first, next-hop-last ordering.
func (c *Caller) receiver() []string {
	out := make([]string, len(c.path))
	for i, hop := range c.path {
		out[len(c.path)-1-i] = hop
	}
	return out
}

// Do builds {args, kwargs}, sends it as a request and returns the reply
// value, or the transported error.
func (c *Caller) Do(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	data := map[string]interface{}{
		"args":   args,
		"kwargs": kwargs,
	}

	if args == nil {
		data["args"] = []interface{}{}
	}
	if kwargs == nil {
		data["kwargs"] = map[string]interface{}{}
	}

	packet := c.isle.CreatePacket(c.receiver(), data)
	return c.isle.RequestResponse(ctx, packet, c.timeout)
}
