package client

import "github.com/ethereum-optimism/infra/op-taskrunner/report"

// Bridge delivers every event of a bus, admin events included, to a handler
// table. Kinds missing from the table are ignored.
type Bridge struct {
	handlers report.Handlers
	cancel   func()
}

func NewBridge(bus *report.Bus, handlers report.Handlers) *Bridge {
	b := &Bridge{handlers: handlers}
	b.cancel = bus.SubscribeAll(b.dispatch)
	return b
}

func (b *Bridge) dispatch(ev report.Event) {
	if fn, ok := b.handlers[ev.Kind]; ok {
		fn(ev.Params)
	}
}

// Close detaches the bridge from the bus.
func (b *Bridge) Close() {
	b.cancel()
}
