package station

import (
	"sync"

	"github.com/itohio/garden/pkg/protocol"
)

// Desired is the operator-held actuator state and the pending reset request.
// Operator connections write it; the receive loop reads it once per cycle.
type Desired struct {
	mu    sync.Mutex
	flags protocol.StatusFlags
	// Each reset press bumps requested; sent trails it until delivered.
	requested uint64
	sent      uint64
}

// NewDesired returns a store with every actuator off.
func NewDesired() *Desired {
	return &Desired{}
}

// Flags returns the desired actuator flags.
func (d *Desired) Flags() protocol.StatusFlags {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flags
}

// Apply folds an operator command into the store and returns the resulting
// desired flags. Reset only raises the reset request.
func (d *Desired) Apply(cmd protocol.UICommand) protocol.StatusFlags {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cmd == protocol.UIReset {
		d.requested++
	}
	d.flags = cmd.Apply(d.flags)
	return d.flags
}

// ResetWanted reports whether an operator requested a reset since the last
// one was sent.
func (d *Desired) ResetWanted() bool {
	_, ok := d.ResetRequest()
	return ok
}

// ResetRequest returns the generation of the newest reset request and whether
// it is still undelivered. Pass the generation to ClearReset once sent.
func (d *Desired) ResetRequest() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requested, d.requested != d.sent
}

// ClearReset marks requests up to generation seen as delivered. A reset
// pressed after seen was read stays pending.
func (d *Desired) ClearReset(seen uint64) {
	d.mu.Lock()
	if seen > d.sent {
		d.sent = seen
	}
	d.mu.Unlock()
}
