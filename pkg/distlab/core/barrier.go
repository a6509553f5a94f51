package core

import (
	"fmt"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// SynchronisedStart runs the STARTED half of the lifecycle barrier
// (spec §4.6). The coordinator only waits; children multicast first.
func SynchronisedStart(cap Capability, events *EventLog, role types.Role) error {
	if role == types.RoleChild {
		msg, err := cap.NewStamped(types.Started, nil)
		if err != nil {
			return err
		}
		events.Emit(EventStarted, msg.Header.LogicalTime, cap.ID())
		if err := cap.SendMulticast(msg); err != nil {
			return fmt.Errorf("distlab: multicasting STARTED: %w", err)
		}
	}

	if err := waitAll(cap, types.Started); err != nil {
		return err
	}

	events.Emit(EventReceivedAllStarted, cap.Clock().Time(), cap.ID())
	return nil
}

// SynchronisedDone runs the DONE half of the lifecycle barrier. When
// mutex is non-nil (a child that just ran a mutex work loop), waiting
// is done through ReceiveAny rather than one blocking Receive per
// peer, and any straggler CS_REQUEST/CS_REPLY/CS_RELEASE addressed to
// this peer is still serviced — a peer that finished its own work
// loop early must not go deaf to peers still racing for the lock
// (spec §4.8 progress invariant: a peer that has already sent DONE
// keeps answering, so nobody is left waiting on it forever).
func SynchronisedDone(cap Capability, events *EventLog, role types.Role, mutex MutexProtocol) error {
	if role == types.RoleChild {
		msg, err := cap.NewStamped(types.Done, nil)
		if err != nil {
			return err
		}
		events.Emit(EventDone, msg.Header.LogicalTime, cap.ID())
		if err := cap.SendMulticast(msg); err != nil {
			return fmt.Errorf("distlab: multicasting DONE: %w", err)
		}
	}

	if mutex != nil {
		if err := waitAllMutex(cap, mutex); err != nil {
			return err
		}
	} else if err := waitAll(cap, types.Done); err != nil {
		return err
	}

	events.Emit(EventReceivedAllDone, cap.Clock().Time(), cap.ID())
	return nil
}

// waitAllMutex blocks until DONE has been seen from every other child
// (never the coordinator, which is excluded per waitAll's range),
// counting DONEs the mutex observed earlier via DoneCount and
// dispatching any interleaved mutex-protocol message to mutex instead
// of treating it as a framing error.
func waitAllMutex(cap Capability, mutex MutexProtocol) error {
	seen := make(map[types.LocalID]bool, cap.N()-1)
	remaining := 0
	for id := types.LocalID(1); int(id) < cap.N(); id++ {
		if id != cap.ID() {
			remaining++
		}
	}
	// DONEs the mutex already consumed inside RequestCS will not arrive
	// again on the channel.
	remaining -= mutex.DoneCount()
	for remaining > 0 {
		from, msg, err := cap.ReceiveAny()
		if err != nil {
			return err
		}
		if msg.Header.Type == types.Done {
			if !seen[from] {
				seen[from] = true
				remaining--
			}
			continue
		}
		handled, err := mutex.HandleOutOfBand(cap, msg, from)
		if err != nil {
			return err
		}
		if !handled {
			return fmt.Errorf("distlab: unexpected %s from %d while awaiting DONE", msg.Header.Type, from)
		}
	}
	return nil
}

// waitAll blocks-receives one message of want from every child other
// than self, in ascending id order, failing fast on any unexpected
// type. The coordinator (id 0) is never waited on: it is excluded from
// j ∈ [1, N) by spec §4.6's wait-all range, since it never multicasts
// STARTED/DONE in the first place.
func waitAll(cap Capability, want types.MessageType) error {
	for id := types.LocalID(1); int(id) < cap.N(); id++ {
		if id == cap.ID() {
			continue
		}
		msg, err := cap.Receive(id)
		if err != nil {
			return fmt.Errorf("distlab: waiting for %s from %d: %w", want, id, err)
		}
		if msg.Header.Type != want {
			return fmt.Errorf("distlab: expected %s from %d, got %s", want, id, msg.Header.Type)
		}
	}
	return nil
}
