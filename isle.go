package isles

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
)

// RouteFunc is an exposed handler: it receives the positional args and
// named kwargs carried in a request Packet's data, and returns either a
// value (success reply) or an error (exception reply). Isles enumerate a
// finite, explicit set of exposed handlers at construction rather than
// relying on runtime tag scanning.
type RouteFunc func(args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// Option configures an Isle at construction time.
type Option func(*Isle)

// WithLoop overrides the per-tick user work normally a no-op.
func WithLoop(fn func(*Isle)) Option {
	return func(i *Isle) { i.loopFunc = fn }
}

// WithShutdown overrides the cleanup hook invoked exactly once when the
// event loop exits.
func WithShutdown(fn func(*Isle)) Option {
	return func(i *Isle) { i.shutdownFunc = fn }
}

// WithTickInterval overrides the cooperative-yield interval between event
// loop ticks (default 10ms).
func WithTickInterval(d time.Duration) Option {
	return func(i *Isle) { i.tickInterval = d }
}

// WithRequestTimeout overrides the default RequestResponse deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(i *Isle) { i.requestTimeout = d }
}

// WithTelemetry attaches an observer that is notified around each tick's
// incoming-packet dispatch. A nil Telemetry (the default) disables
// instrumentation entirely.
func WithTelemetry(t Telemetry) Option {
	return func(i *Isle) { i.telemetry = t }
}

type routeEntry struct {
	name string
	fn   RouteFunc
}

// Isle is an independent execution unit: it owns one Connection to the
// Manager, an explicit route table of exposed handlers, and runs a
// cooperative event loop on its own goroutine.
type Isle struct {
	id         string
	connection *Connection
	routes     map[string]*routeEntry

	running atomic.Bool

	loopFunc       func(*Isle)
	shutdownFunc   func(*Isle)
	unhandledFunc  func(*Packet) bool
	tickInterval   time.Duration
	requestTimeout time.Duration
	telemetry      Telemetry

	tasks []func(context.Context)
}

// NewIsle constructs an Isle with the given identifier (a random uuid if
// empty) and options. Routes are registered afterward via RegisterRoute /
// RegisterTypedRoute, before the Isle is handed to Manager.AddIsle.
func NewIsle(id string, opts ...Option) *Isle {
	if id == "" {
		id = newIdentifier()
	}

	i := &Isle{
		id:             id,
		connection:     NewConnection(),
		routes:         map[string]*routeEntry{},
		tickInterval:   10 * time.Millisecond,
		requestTimeout: 3 * time.Second,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// ID returns the isle's identifier.
func (i *Isle) ID() string { return i.id }

// Connection returns the isle's Connection, shared by reference with the
// Manager that owns it.
func (i *Isle) Connection() *Connection { return i.connection }

// RegisterRoute exposes fn under name, callable by other isles via a
// two-hop address [name, i.ID()].
func (i *Isle) RegisterRoute(name string, fn RouteFunc) {
	i.routes[name] = &routeEntry{name: name, fn: fn}
}

// RegisterTypedRoute adapts an arbitrary Go function into a RouteFunc using
// reflection, decoding positional args onto fn's parameters (and, when fn
// takes exactly one struct parameter and the caller supplied kwargs instead
// of args, decoding kwargs onto that struct via mapstructure). fn must
// return at most two results, the last of which (if two) must satisfy
// error. Arity mismatches surface as InvocationShapeError rather than a
// panic.
func (i *Isle) RegisterTypedRoute(name string, fn interface{}) {
	i.routes[name] = &routeEntry{name: name, fn: adaptTypedRoute(name, fn)}
}

func adaptTypedRoute(name string, fn interface{}) RouteFunc {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()

	if fnType.Kind() != reflect.Func {
		panic(fmt.Sprintf("isles: RegisterTypedRoute(%q): not a function", name))
	}

	numOut := fnType.NumOut()
	if numOut > 2 {
		panic(fmt.Sprintf("isles: RegisterTypedRoute(%q): at most two return values supported", name))
	}
	if numOut == 2 {
		errType := reflect.TypeOf((*error)(nil)).Elem()
		if !fnType.Out(1).Implements(errType) {
			panic(fmt.Sprintf("isles: RegisterTypedRoute(%q): second return value must be error", name))
		}
	}

	return func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		numIn := fnType.NumIn()

		var in []reflect.Value

		switch {
		case len(args) == 0 && len(kwargs) > 0 && numIn == 1:
			paramType := fnType.In(0)
			paramPtr := reflect.New(paramType)
			if err := mapstructure.Decode(kwargs, paramPtr.Interface()); err != nil {
				return nil, &InvocationShapeError{Route: name, Reason: err.Error()}
			}
			in = []reflect.Value{paramPtr.Elem()}
		case len(args) == numIn:
			in = make([]reflect.Value, numIn)
			for idx := 0; idx < numIn; idx++ {
				paramType := fnType.In(idx)
				v, err := coerce(args[idx], paramType)
				if err != nil {
					return nil, &InvocationShapeError{Route: name, Reason: fmt.Sprintf("argument %d: %s", idx, err.Error())}
				}
				in[idx] = v
			}
		default:
			return nil, &InvocationShapeError{
				Route:  name,
				Reason: fmt.Sprintf("expected %d positional argument(s), got %d", numIn, len(args)),
			}
		}

		out := fnVal.Call(in)

		switch numOut {
		case 0:
			return nil, nil
		case 1:
			if fnType.Out(0).Implements(reflect.TypeOf((*error)(nil)).Elem()) {
				if err, _ := out[0].Interface().(error); err != nil {
					return nil, err
				}
				return nil, nil
			}
			return out[0].Interface(), nil
		default:
			var err error
			if e, ok := out[1].Interface().(error); ok {
				err = e
			}
			return out[0].Interface(), err
		}
	}
}

func coerce(arg interface{}, paramType reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(paramType), nil
	}

	argVal := reflect.ValueOf(arg)
	if argVal.Type().AssignableTo(paramType) {
		return argVal, nil
	}
	if argVal.Type().ConvertibleTo(paramType) && isNumericKind(argVal.Kind()) && isNumericKind(paramType.Kind()) {
		return argVal.Convert(paramType), nil
	}

	ptr := reflect.New(paramType)
	if err := mapstructure.Decode(arg, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// CreatePacket builds a Packet addressed to receiver, sent from this isle.
func (i *Isle) CreatePacket(receiver []string, data interface{}) *Packet {
	return NewPacket([]string{i.id}, receiver, data)
}

// SendPacket enqueues p toward the Manager and returns its identifier.
func (i *Isle) SendPacket(p *Packet) string {
	i.connection.OwnerSend(p)
	return p.Identifier
}

// Call begins a dotted call-proxy chain; see callproxy.go.
func (i *Isle) Call(path ...string) *Caller {
	return newCaller(i, path)
}

// RequestResponse sends p toward the Manager and busy-waits (yielding
// cooperatively between polls) for a reply matching p's identifier.
// Packets observed that do not match are stashed in a local side-buffer
// and spliced back onto the inbound queue, in order, once the wait
// resolves, so an unrelated reply can never starve a concurrent request
// that is still waiting on the same queue.
func (i *Isle) RequestResponse(ctx context.Context, p *Packet, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		timeout = i.requestTimeout
	}

	identifier := p.Identifier
	receiver := p.Receiver
	i.SendPacket(p)

	deadline := time.Now().Add(timeout)
	var sideBuffer []*Packet

	defer func() {
		if len(sideBuffer) > 0 {
			i.connection.OwnerRequeue(sideBuffer...)
		}
	}()

	for {
		if pkt, ok := i.connection.OwnerReceive(); ok {
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
			sideBuffer = append(sideBuffer, pkt)
			continue
		}

		if time.Now().After(deadline) {
			return nil, &TimeoutError{IsleID: i.id, Identifier: identifier, Receiver: receiver}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(i.tickInterval):
		}
	}
}

func exceptionToError(e interface{}) error {
	if err, ok := e.(error); ok {
		return err
	}
	return &HandlerError{Message: fmt.Sprintf("%v", e)}
}

// Run executes the isle's event loop until Running() is false, then its
// shutdown hook exactly once. Manager.AddIsle starts this on its own
// goroutine.
func (i *Isle) Run(ctx context.Context) {
	i.running.Store(true)

	for i.running.Load() {
		if i.loopFunc != nil {
			i.loopFunc(i)
		}

		i.handleIncoming()

		select {
		case <-ctx.Done():
			i.running.Store(false)
		case <-time.After(i.tickInterval):
		}
	}

	if i.shutdownFunc != nil {
		i.shutdownFunc(i)
	}
}

// Running reports whether the event loop is still active.
func (i *Isle) Running() bool { return i.running.Load() }

// Stop flips the running flag so the event loop exits on its next check.
func (i *Isle) Stop() { i.running.Store(false) }

// handleIncoming drains the inbound queue fully, dispatching each packet
// to the first predicate (in order) that accepts it: the forwarding hook
// (when one is installed, as Peerthrough does), late-reply, islet,
// shutdown, or the no-taker fallback.
func (i *Isle) handleIncoming() {
	for {
		pkt, ok := i.connection.OwnerReceive()
		if !ok {
			return
		}

		if i.telemetry != nil {
			span := i.telemetry.StartDispatch(i.id, pkt)
			i.dispatchOne(pkt)
			span.End()
			continue
		}

		i.dispatchOne(pkt)
	}
}

func (i *Isle) dispatchOne(pkt *Packet) {
	if i.unhandledFunc != nil && i.unhandledFunc(pkt) {
		return
	}
	if i.handleLateReply(pkt) {
		return
	}
	if i.handleIslet(pkt) {
		return
	}
	if i.handleShutdown(pkt) {
		return
	}

	// No route claimed the packet: reply with an explicit exception rather
	// than dropping it silently.
	reply := pkt.Reply(map[string]interface{}{"exception": "no-taker"})
	i.SendPacket(reply)
}

func (i *Isle) handleLateReply(pkt *Packet) bool {
	data, ok := pkt.DataMap()
	if !ok {
		return false
	}
	_, hasReturn := data["return"]
	_, hasException := data["exception"]
	return hasReturn || hasException
}

// handleShutdown fires when a packet's data is the bare string "shutdown",
// rather than a mapping carrying a command key.
func (i *Isle) handleShutdown(pkt *Packet) bool {
	if s, ok := pkt.Data.(string); ok && s == "shutdown" {
		i.running.Store(false)
		return true
	}
	return false
}

// handleIslet matches a two-hop address whose tail (last element) names
// this isle and whose second-to-last element names one of its exposed
// routes — e.g. Receiver == []string{"handler", isleID}.
func (i *Isle) handleIslet(pkt *Packet) bool {
	if len(pkt.Receiver) != 2 || pkt.Receiver[1] != i.id {
		return false
	}

	route, ok := i.routes[pkt.Receiver[0]]
	if !ok {
		return false
	}

	data, _ := pkt.DataMap()
	args, _ := data["args"].([]interface{})
	kwargs, _ := data["kwargs"].(map[string]interface{})

	value, err := i.invoke(route, args, kwargs)

	var reply *Packet
	if err != nil {
		reply = pkt.Reply(map[string]interface{}{"exception": err.Error()})
	} else {
		reply = pkt.Reply(map[string]interface{}{"return": value})
	}

	i.SendPacket(reply)
	return true
}

func (i *Isle) invoke(route *routeEntry, args []interface{}, kwargs map[string]interface{}) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Route: route.name, Message: fmt.Sprintf("%v", r)}
		}
	}()

	return route.fn(args, kwargs)
}
