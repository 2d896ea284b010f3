package settings

import (
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/metrics"
)

// BindingHandle identifies a registered binding.
type BindingHandle uint32

// Callback receives the value carried by an event and the setting it concerns.
type Callback func(v Value, def *Definition)

// Notification is what container observers receive for every dispatched event.
type Notification struct {
	Container string
	Event     ChangeEvent
	Setting   Identity
	Value     Value
}

// Primitive is the set of payload types a typed binding can receive.
type Primitive interface {
	bool | int32 | float32 | Color | Identity
}

type binding struct {
	handle BindingHandle
	id     Identity
	event  ChangeEvent
	fn     Callback
}

type bindingRegistry struct {
	next      BindingHandle
	bindings  []binding
	nextObs   uint64
	observers map[uint64]func(Notification)
}

func (r *bindingRegistry) add(id Identity, event ChangeEvent, fn Callback) BindingHandle {
	r.next++
	r.bindings = append(r.bindings, binding{handle: r.next, id: id, event: event, fn: fn})
	return r.next
}

func (r *bindingRegistry) remove(h BindingHandle) bool {
	for i, b := range r.bindings {
		if b.handle == h {
			r.bindings = append(r.bindings[:i], r.bindings[i+1:]...)
			return true
		}
	}
	return false
}

func (r *bindingRegistry) observe(fn func(Notification)) uint64 {
	if r.observers == nil {
		r.observers = make(map[uint64]func(Notification))
	}
	r.nextObs++
	r.observers[r.nextObs] = fn
	return r.nextObs
}

// dispatch is a batch of callbacks collected under the container lock and
// invoked after it is released.
type dispatch struct {
	calls []func()
}

func (d *dispatch) run() {
	for _, call := range d.calls {
		call()
	}
}

// collect queues every binding matching (def, event) plus all observers.
func (r *bindingRegistry) collect(d *dispatch, container string, event ChangeEvent, def *Definition, v Value) {
	for _, b := range r.bindings {
		if b.id != def.ID || b.event != event {
			continue
		}
		fn := b.fn
		d.calls = append(d.calls, func() {
			metrics.BindingDispatches.WithLabelValues(event.String()).Inc()
			fn(v, def)
		})
	}
	if len(r.observers) == 0 {
		return
	}
	n := Notification{Container: container, Event: event, Setting: def.ID, Value: v}
	for _, obs := range r.observers {
		fn := obs
		d.calls = append(d.calls, func() { fn(n) })
	}
}

// BindValue registers an untyped callback for (def, event).
func (c *Container) BindValue(def *Definition, event ChangeEvent, fn Callback) (BindingHandle, error) {
	if def == nil || fn == nil {
		return 0, ErrInvalidSetting
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindings.add(def.ID, event, fn), nil
}

// Unbind removes a binding. It reports whether the handle was registered.
func (c *Container) Unbind(h BindingHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindings.remove(h)
}

// Observe registers fn for every event dispatched by the container. The
// returned function cancels the subscription.
func (c *Container) Observe(fn func(Notification)) (cancel func()) {
	c.mu.Lock()
	id := c.bindings.observe(fn)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.bindings.observers, id)
		c.mu.Unlock()
	}
}

// Bind registers a callback whose payload type must match the setting's type.
func Bind[T Primitive](c *Container, def *Definition, event ChangeEvent, fn func(T, *Definition)) (BindingHandle, error) {
	if def == nil || fn == nil {
		return 0, ErrInvalidSetting
	}
	if want := primitiveType[T](); def.Type != want {
		return 0, fmt.Errorf("%w: %s is %s, callback takes %s", ErrTypeMismatch, def.ID, def.Type, want)
	}
	return c.BindValue(def, event, func(v Value, d *Definition) {
		fn(payload[T](v), d)
	})
}

func primitiveType[T Primitive]() ValueType {
	var zero T
	switch any(zero).(type) {
	case bool:
		return TypeBoolean
	case int32:
		return TypeInteger
	case float32:
		return TypeFloat
	case Color:
		return TypeColor
	case Identity:
		return TypeTag
	default:
		panic(fmt.Sprintf("settings: unhandled primitive %T", zero))
	}
}

func payload[T Primitive](v Value) T {
	var zero T
	var out any
	switch any(zero).(type) {
	case bool:
		out = v.Bool()
	case int32:
		out = v.Int()
	case float32:
		out = v.Float()
	case Color:
		out = v.Color()
	case Identity:
		out = v.Tag()
	default:
		panic(fmt.Sprintf("settings: unhandled primitive %T", zero))
	}
	return out.(T)
}
