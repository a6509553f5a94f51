package core

import (
	"fmt"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// MutexVariant selects which of the two mutual-exclusion algorithms a
// run uses (spec §4.8, SPEC_FULL.md §6 --mutex-variant).
type MutexVariant int

const (
	MutexLamport MutexVariant = iota
	MutexRicartAgrawala
)

func (v MutexVariant) String() string {
	if v == MutexRicartAgrawala {
		return "ricart-agrawala"
	}
	return "lamport"
}

// newMutex builds the protocol state for variant, owned by self.
func newMutex(variant MutexVariant, self types.LocalID) MutexProtocol {
	if variant == MutexRicartAgrawala {
		return NewRicartAgrawalaMutex(self)
	}
	return NewLamportMutex(self)
}

// Peer bundles one goroutine's identity, transport and protocol state
// for the whole run: lifecycle barrier, then bank, then mutex work
// loop, mirroring the three-phase shape of go-mcast's Peer/poll (spec
// §4.1 component table).
type Peer struct {
	cap     Capability
	events  *EventLog
	role    types.Role
	variant MutexVariant
}

// NewPeer builds the peer-level driver around an already-constructed
// Capability (ordinarily an *Endpoint from a built mesh).
func NewPeer(cap Capability, events *EventLog, role types.Role, variant MutexVariant) *Peer {
	return &Peer{cap: cap, events: events, role: role, variant: variant}
}

// RunCoordinator executes the coordinator's whole lifecycle (spec
// §4.1/§4.6/§4.7). When bankEnabled is false (no balances were given
// on the command line) the bank phase is skipped entirely and the run
// is a pure barrier, per SPEC_FULL.md §6.
func (p *Peer) RunCoordinator(bankEnabled bool, initial map[types.LocalID]int16, robbery Robbery) (map[types.LocalID]types.BalanceHistory, error) {
	if p.role != types.RoleParent {
		return nil, fmt.Errorf("distlab: RunCoordinator called on a non-parent peer")
	}
	if err := SynchronisedStart(p.cap, p.events, p.role); err != nil {
		return nil, fmt.Errorf("distlab: coordinator barrier start: %w", err)
	}

	var histories map[types.LocalID]types.BalanceHistory
	if bankEnabled {
		h, err := CoordinatorBank(p.cap, p.events, initial, robbery)
		if err != nil {
			return nil, err
		}
		histories = h
	}

	if err := SynchronisedDone(p.cap, p.events, p.role, nil); err != nil {
		return nil, fmt.Errorf("distlab: coordinator barrier done: %w", err)
	}
	return histories, nil
}

// opsPerID is the per-peer work loop quota from spec §4.8: child i
// executes i = 1..5*self.id critical-section operations.
const opsPerID = 5

// RunChild executes one child's whole lifecycle (spec §4.1/§4.6-4.8):
// barrier start, absorb bank traffic until STOP (skipped when
// bankEnabled is false), then the work loop (5*id operations,
// mutex-synchronised only when mutexEnabled), then barrier done.
func (p *Peer) RunChild(bankEnabled bool, initialBalance int16, mutexEnabled bool) error {
	if p.role != types.RoleChild {
		return fmt.Errorf("distlab: RunChild called on a non-child peer")
	}
	if err := SynchronisedStart(p.cap, p.events, p.role); err != nil {
		return fmt.Errorf("distlab: child %d barrier start: %w", p.cap.ID(), err)
	}

	if bankEnabled {
		state := NewChildBankState(initialBalance)
		if err := ChildBank(p.cap, p.events, state); err != nil {
			return fmt.Errorf("distlab: child %d bank phase: %w", p.cap.ID(), err)
		}
	}

	ops := opsPerID * int(p.cap.ID())
	var mutex MutexProtocol
	if mutexEnabled {
		mutex = newMutex(p.variant, p.cap.ID())
	}
	if err := p.runWorkLoop(mutex, ops); err != nil {
		return fmt.Errorf("distlab: child %d work loop: %w", p.cap.ID(), err)
	}

	if err := SynchronisedDone(p.cap, p.events, p.role, mutex); err != nil {
		return fmt.Errorf("distlab: child %d barrier done: %w", p.cap.ID(), err)
	}
	return nil
}

// runWorkLoop performs ops operations. When mutex is non-nil each one
// is bracketed by RequestCS/ReleaseCS (spec §4.8's child_work shape,
// i = 1..ops); when nil (mutexl off) the loop_operation line is
// emitted with no cross-peer synchronisation at all.
func (p *Peer) runWorkLoop(mutex MutexProtocol, ops int) error {
	for i := 1; i <= ops; i++ {
		if mutex != nil {
			if err := mutex.RequestCS(p.cap, p.events); err != nil {
				return fmt.Errorf("distlab: requesting CS %d/%d: %w", i, ops, err)
			}
		}
		p.events.Emit(EventLoopOperation, p.cap.Clock().Time(), p.cap.ID(), i, ops)
		if mutex != nil {
			if err := mutex.ReleaseCS(p.cap, p.events); err != nil {
				return fmt.Errorf("distlab: releasing CS %d/%d: %w", i, ops, err)
			}
		}
	}
	return nil
}
