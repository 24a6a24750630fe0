package events

// Listener receives published events.
type Listener func(Event)

// Publisher is implemented by anything that accepts normalized events.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Dispatcher delivers each event to every listener in registration order.
// It is not safe for concurrent use; it is driven from the owner's tick.
type Dispatcher struct {
	listeners []Listener
	hooks     []func(Event)
}

// Subscribe registers l. Registering the same listener twice delivers twice.
func (d *Dispatcher) Subscribe(l Listener) {
	if l == nil {
		return
	}
	d.listeners = append(d.listeners, l)
}

// OnPublish registers an observer called before listeners (metrics, logging).
func (d *Dispatcher) OnPublish(fn func(Event)) {
	d.hooks = append(d.hooks, fn)
}

// Publish delivers e synchronously.
func (d *Dispatcher) Publish(e Event) {
	if e == nil {
		return
	}
	for _, h := range d.hooks {
		h(e)
	}
	for _, l := range d.listeners {
		l(e)
	}
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int { return len(d.listeners) }
