package core

import (
	"fmt"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// Capability is the IPC surface every protocol routine (barrier, bank,
// mutex) is written against, instead of against a concrete Endpoint.
// This lets the higher layers be exercised against a mock transport in
// tests, per the "void-pointer polymorphism" redesign note in spec §9.
type Capability interface {
	ID() types.LocalID
	N() int
	Clock() *LogicalClock
	NewStamped(t types.MessageType, payload []byte) (types.Message, error)
	Send(dst types.LocalID, msg types.Message) error
	SendMulticast(msg types.Message) error
	SendChildMulticast(msg types.Message) error
	Receive(from types.LocalID) (types.Message, error)
	ReceiveAny() (types.LocalID, types.Message, error)
}

// Endpoint is the per-peer state described in spec §3 "Process
// Endpoint": identity, the table of channels indexed by peer id, and
// the role that gates which barrier half applies.
type Endpoint struct {
	id    types.LocalID
	n     int
	role  types.Role
	row   map[types.LocalID]*FramedChannel
	clock *LogicalClock
}

// NewEndpoint constructs the per-peer IPC state from its mesh row.
func NewEndpoint(id types.LocalID, n int, role types.Role, row map[types.LocalID]*FramedChannel) *Endpoint {
	return &Endpoint{
		id:    id,
		n:     n,
		role:  role,
		row:   row,
		clock: &LogicalClock{},
	}
}

func (e *Endpoint) ID() types.LocalID { return e.id }
func (e *Endpoint) N() int            { return e.n }
func (e *Endpoint) Role() types.Role  { return e.role }
func (e *Endpoint) Clock() *LogicalClock {
	return e.clock
}

// Close releases every channel this endpoint owns.
func (e *Endpoint) Close() {
	CloseRow(e.row)
}

// OpenHandles reports the number of fd handles held in this endpoint's
// row (spec §8 property 3); handles already closed by Close are still
// counted.
func (e *Endpoint) OpenHandles() int {
	return CountOpenHandles(e.row)
}

func (e *Endpoint) channel(peer types.LocalID) (*FramedChannel, error) {
	if peer == e.id {
		return nil, fmt.Errorf("distlab: peer %d cannot address itself", e.id)
	}
	ch, ok := e.row[peer]
	if !ok || peer < 0 || int(peer) >= e.n {
		return nil, fmt.Errorf("distlab: peer %d out of range [0, %d)", peer, e.n)
	}
	return ch, nil
}
