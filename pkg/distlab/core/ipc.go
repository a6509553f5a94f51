package core

import (
	"fmt"
	"io"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// NewStamped ticks the endpoint's clock (rule L1: a send is itself the
// "event") and builds a message carrying the new logical time. Every
// protocol routine that sends must go through this rather than
// constructing a types.Message by hand, so the clock is never bumped
// twice for one send.
func (e *Endpoint) NewStamped(t types.MessageType, payload []byte) (types.Message, error) {
	return types.NewMessage(t, e.clock.Tick(), payload)
}

// Send delivers msg to dst. dst must be a valid peer other than self;
// msg must already carry a valid magic (built via NewStamped).
func (e *Endpoint) Send(dst types.LocalID, msg types.Message) error {
	if msg.Header.MagicValue != types.Magic {
		return types.ErrBadMagic
	}
	ch, err := e.channel(dst)
	if err != nil {
		return err
	}
	return ch.Write(msg)
}

// SendMulticast delivers msg to every peer other than self, in
// ascending id order. Each channel's own FIFO is preserved; there is
// no cross-channel delivery ordering guarantee (spec §4.4).
func (e *Endpoint) SendMulticast(msg types.Message) error {
	if msg.Header.MagicValue != types.Magic {
		return types.ErrBadMagic
	}
	for dst := types.LocalID(0); int(dst) < e.n; dst++ {
		if dst == e.id {
			continue
		}
		ch, err := e.channel(dst)
		if err != nil {
			return err
		}
		if err := ch.Write(msg); err != nil {
			return fmt.Errorf("distlab: multicast to %d: %w", dst, err)
		}
	}
	return nil
}

// SendChildMulticast delivers msg to every child (ids [1, n), excluding
// self) but never to the coordinator. This is the CS_REQUEST/CS_RELEASE
// multicast of spec §4.8's mutex variants, mirroring the original's
// send_cs_multicast (original_source/4/pa4/process.c): the coordinator
// never participates in mutual exclusion and must not see CS traffic,
// whereas SendMulticast (STARTED/DONE/STOP) always includes it.
func (e *Endpoint) SendChildMulticast(msg types.Message) error {
	if msg.Header.MagicValue != types.Magic {
		return types.ErrBadMagic
	}
	for dst := types.LocalID(1); int(dst) < e.n; dst++ {
		if dst == e.id {
			continue
		}
		ch, err := e.channel(dst)
		if err != nil {
			return err
		}
		if err := ch.Write(msg); err != nil {
			return fmt.Errorf("distlab: child multicast to %d: %w", dst, err)
		}
	}
	return nil
}

// Receive blocks until a frame arrives from from, validates it, and
// applies rule L2 to the clock.
func (e *Endpoint) Receive(from types.LocalID) (types.Message, error) {
	ch, err := e.channel(from)
	if err != nil {
		return types.Message{}, err
	}
	msg, err := ch.ReadBlocking()
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return types.Message{}, fmt.Errorf("distlab: peer %d closed before message completed: %w", from, err)
		}
		return types.Message{}, err
	}
	e.clock.Observe(msg.Header.LogicalTime)
	return msg, nil
}

// ReceiveAny scans every channel in round-robin, attempting
// non-blocking reads, and yields the scheduler when a full pass finds
// nothing but EMPTY channels — the cooperative-yield loop of spec
// §4.4. It returns the source id of the first frame found.
func (e *Endpoint) ReceiveAny() (types.LocalID, types.Message, error) {
	order := make([]types.LocalID, 0, e.n-1)
	for id := types.LocalID(0); int(id) < e.n; id++ {
		if id != e.id {
			order = append(order, id)
		}
	}

	live := make(map[types.LocalID]bool, len(order))
	for _, id := range order {
		live[id] = true
	}

	for {
		sawEmpty := false
		for _, id := range order {
			if !live[id] {
				continue
			}
			ch := e.row[id]
			msg, status, err := ch.ReadNonBlocking()
			switch status {
			case ReadOK:
				e.clock.Observe(msg.Header.LogicalTime)
				return id, msg, nil
			case ReadError:
				return 0, types.Message{}, fmt.Errorf("distlab: reading from %d: %w", id, err)
			case ReadEmpty:
				sawEmpty = true
			case ReadClosed:
				live[id] = false
			}
		}
		if !sawEmpty {
			if allDead(live) {
				return 0, types.Message{}, fmt.Errorf("distlab: all peer channels closed")
			}
			// No channel reported EMPTY but some are still marked live:
			// scan again without yielding.
			continue
		}
		yield()
	}
}

func allDead(live map[types.LocalID]bool) bool {
	for _, v := range live {
		if v {
			return false
		}
	}
	return true
}
