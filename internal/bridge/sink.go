package bridge

import (
	"sync"

	"chatbridge/internal/protocol"
)

// Sink receives decoded stream units in the order the handler wrote them.
// Deliver is called from the invoking goroutine; a non-nil error aborts the
// stream.
type Sink interface {
	Deliver(unit protocol.StreamUnit) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(unit protocol.StreamUnit) error

func (f SinkFunc) Deliver(unit protocol.StreamUnit) error { return f(unit) }

// Collector buffers every unit it receives.
type Collector struct {
	mu    sync.Mutex
	units []protocol.StreamUnit
}

func (c *Collector) Deliver(unit protocol.StreamUnit) error {
	c.mu.Lock()
	c.units = append(c.units, unit)
	c.mu.Unlock()
	return nil
}

// Units returns a copy of the collected units.
func (c *Collector) Units() []protocol.StreamUnit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.StreamUnit(nil), c.units...)
}

// Text concatenates the content of every content unit.
func (c *Collector) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for _, unit := range c.units {
		if unit.Kind == protocol.KindContent {
			out = append(out, unit.ContentText()...)
		}
	}
	return string(out)
}

// MultiSink delivers each unit to every sink in turn and stops at the first
// error.
func MultiSink(sinks ...Sink) Sink {
	return SinkFunc(func(unit protocol.StreamUnit) error {
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Deliver(unit); err != nil {
				return err
			}
		}
		return nil
	})
}
