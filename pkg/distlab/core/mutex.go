package core

import (
	"fmt"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// MutexProtocol is the pair of operations a child's work loop wraps
// every critical section in (spec §4.8). Both variants below also
// track DONE arrivals observed while waiting for a grant, since a
// peer that has already left must never be waited on again.
type MutexProtocol interface {
	RequestCS(cap Capability, events *EventLog) error
	ReleaseCS(cap Capability, events *EventLog) error
	// HandleOutOfBand processes a mutex-protocol message observed
	// outside of RequestCS/ReleaseCS (e.g. while draining stragglers
	// at the end of a run); it reports whether msg was a message this
	// protocol owns.
	HandleOutOfBand(cap Capability, msg types.Message, from types.LocalID) (bool, error)
	// DoneCount is the number of peers observed to have sent DONE.
	DoneCount() int
}

// --- Variant A: Lamport's queue-and-release mutex (pa4) ---

// LamportMutex implements the bakery-style algorithm from spec
// §4.8 Variant A: every request is queued system-wide by
// (timestamp, id), and a process may enter only once its own request
// is the queue minimum and every live peer has replied.
type LamportMutex struct {
	self      types.LocalID
	queue     map[types.LocalID]int16
	doneCount int
}

// NewLamportMutex builds an empty queue for self.
func NewLamportMutex(self types.LocalID) *LamportMutex {
	return &LamportMutex{self: self, queue: make(map[types.LocalID]int16)}
}

func (m *LamportMutex) DoneCount() int { return m.doneCount }

// min returns the id whose (timestamp, id) pair is lexicographically
// smallest in the queue, ties broken by ascending id.
func (m *LamportMutex) min() (types.LocalID, bool) {
	first := true
	var bestID types.LocalID
	var bestT int16
	for id, t := range m.queue {
		if first || t < bestT || (t == bestT && id < bestID) {
			bestID, bestT, first = id, t, false
		}
	}
	return bestID, !first
}

// RequestCS implements spec §4.8 Variant A request_cs.
func (m *LamportMutex) RequestCS(cap Capability, events *EventLog) error {
	msg, err := cap.NewStamped(types.CSRequest, nil)
	if err != nil {
		return err
	}
	m.queue[m.self] = msg.Header.LogicalTime
	if err := cap.SendChildMulticast(msg); err != nil {
		return fmt.Errorf("distlab: multicasting CS_REQUEST: %w", err)
	}

	replies := 0
	wantReplies := cap.N() - 2
	for {
		min, ok := m.min()
		if ok && min == m.self && replies == wantReplies {
			return nil
		}
		from, in, err := cap.ReceiveAny()
		if err != nil {
			return err
		}
		if err := m.handle(cap, in, from, &replies); err != nil {
			return err
		}
	}
}

// ReleaseCS implements spec §4.8 Variant A release_cs.
func (m *LamportMutex) ReleaseCS(cap Capability, events *EventLog) error {
	min, ok := m.min()
	if !ok || min != m.self {
		return fmt.Errorf("distlab: peer %d released without holding the lock", m.self)
	}
	delete(m.queue, m.self)
	msg, err := cap.NewStamped(types.CSRelease, nil)
	if err != nil {
		return err
	}
	return cap.SendChildMulticast(msg)
}

// HandleOutOfBand lets a work loop that is between critical sections
// absorb mutex traffic (e.g. another peer's request it must still
// reply to) without itself holding an outstanding request.
func (m *LamportMutex) HandleOutOfBand(cap Capability, msg types.Message, from types.LocalID) (bool, error) {
	var replies int
	switch msg.Header.Type {
	case types.CSRequest, types.CSReply, types.CSRelease, types.Done:
		return true, m.handle(cap, msg, from, &replies)
	default:
		return false, nil
	}
}

func (m *LamportMutex) handle(cap Capability, msg types.Message, from types.LocalID, replies *int) error {
	switch msg.Header.Type {
	case types.CSReply:
		*replies++
	case types.CSRequest:
		m.queue[from] = msg.Header.LogicalTime
		reply, err := cap.NewStamped(types.CSReply, nil)
		if err != nil {
			return err
		}
		return cap.Send(from, reply)
	case types.CSRelease:
		delete(m.queue, from)
	case types.Done:
		m.doneCount++
		delete(m.queue, from)
	default:
		return fmt.Errorf("distlab: unexpected %s in mutex loop", msg.Header.Type)
	}
	return nil
}

// --- Variant B: Ricart-Agrawala with deferred replies (pa5) ---

// noRequest is the sentinel for "this peer has no outstanding request".
const noRequest int16 = -1

// RicartAgrawalaMutex implements spec §4.8 Variant B: replies are
// granted immediately unless the local outstanding request has
// priority, in which case the reply is deferred until release.
type RicartAgrawalaMutex struct {
	self        types.LocalID
	deferred    map[types.LocalID]bool
	requestTime int16
	doneCount   int
}

// NewRicartAgrawalaMutex builds the per-peer deferred-reply state.
func NewRicartAgrawalaMutex(self types.LocalID) *RicartAgrawalaMutex {
	return &RicartAgrawalaMutex{
		self:        self,
		deferred:    make(map[types.LocalID]bool),
		requestTime: noRequest,
	}
}

func (m *RicartAgrawalaMutex) DoneCount() int { return m.doneCount }

// hasPriority reports whether this peer's outstanding request
// strictly precedes (t, from) in (timestamp, id) order.
func (m *RicartAgrawalaMutex) hasPriority(t int16, from types.LocalID) bool {
	if m.requestTime == noRequest {
		return false
	}
	if m.requestTime != t {
		return m.requestTime < t
	}
	return m.self < from
}

// RequestCS implements spec §4.8 Variant B request_cs.
func (m *RicartAgrawalaMutex) RequestCS(cap Capability, events *EventLog) error {
	msg, err := cap.NewStamped(types.CSRequest, nil)
	if err != nil {
		return err
	}
	m.requestTime = msg.Header.LogicalTime
	if err := cap.SendChildMulticast(msg); err != nil {
		return fmt.Errorf("distlab: multicasting CS_REQUEST: %w", err)
	}

	replies := 0
	wantReplies := cap.N() - 2
	for replies < wantReplies {
		from, in, err := cap.ReceiveAny()
		if err != nil {
			return err
		}
		granted, err := m.handle(cap, in, from)
		if err != nil {
			return err
		}
		if granted {
			replies++
		}
	}
	return nil
}

// ReleaseCS implements spec §4.8 Variant B release_cs.
func (m *RicartAgrawalaMutex) ReleaseCS(cap Capability, events *EventLog) error {
	m.requestTime = noRequest
	for from, deferred := range m.deferred {
		if !deferred {
			continue
		}
		reply, err := cap.NewStamped(types.CSReply, nil)
		if err != nil {
			return err
		}
		if err := cap.Send(from, reply); err != nil {
			return err
		}
		delete(m.deferred, from)
	}
	return nil
}

// HandleOutOfBand mirrors LamportMutex.HandleOutOfBand for variant B.
func (m *RicartAgrawalaMutex) HandleOutOfBand(cap Capability, msg types.Message, from types.LocalID) (bool, error) {
	switch msg.Header.Type {
	case types.CSRequest, types.CSReply, types.Done:
		_, err := m.handle(cap, msg, from)
		return true, err
	default:
		return false, nil
	}
}

// handle processes one message of interest to the RA protocol and
// reports whether it counted as a grant toward the caller's reply
// quota.
func (m *RicartAgrawalaMutex) handle(cap Capability, msg types.Message, from types.LocalID) (bool, error) {
	switch msg.Header.Type {
	case types.CSReply:
		return true, nil
	case types.CSRequest:
		if m.hasPriority(msg.Header.LogicalTime, from) {
			m.deferred[from] = true
			return false, nil
		}
		reply, err := cap.NewStamped(types.CSReply, nil)
		if err != nil {
			return false, err
		}
		return false, cap.Send(from, reply)
	case types.Done:
		m.doneCount++
		// A peer that has sent DONE will never request again; if this
		// process still owes it nothing, but if this process had
		// deferred a reply to it, that reply is now moot.
		delete(m.deferred, from)
		return true, nil
	default:
		return false, fmt.Errorf("distlab: unexpected %s in mutex loop", msg.Header.Type)
	}
}
