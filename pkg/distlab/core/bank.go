package core

import (
	"fmt"
	"math/rand"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// ChildBankState tracks one child's balance trajectory, recorded at
// the Lamport time of each debit/credit per spec §4.7's "history
// recording invariant".
type ChildBankState struct {
	balance int16
	entries []types.BalanceEntry
}

// NewChildBankState seeds a child's bank state with its initial
// balance; no history entry exists yet until the first operation.
func NewChildBankState(initial int16) *ChildBankState {
	return &ChildBankState{balance: initial}
}

// record (over)writes the entry at index t with the post-operation
// balance, growing the slice as needed and sentinel-filling any gap
// below t that was never touched.
func (s *ChildBankState) record(t int16, newBalance int16) {
	idx := int(t)
	if idx >= len(s.entries) {
		grown := make([]types.BalanceEntry, idx+1)
		copy(grown, s.entries)
		for i := len(s.entries); i < idx; i++ {
			grown[i] = types.BalanceEntry{Time: types.UnsetTime}
		}
		s.entries = grown
	}
	s.entries[idx] = types.BalanceEntry{Balance: newBalance, Time: t, PendingIn: 0}
	s.balance = newBalance
}

// Debit applies an outgoing transfer at logical time t.
func (s *ChildBankState) Debit(t int16, amount int16) {
	s.record(t, s.balance-amount)
}

// Credit applies an incoming transfer at logical time t.
func (s *ChildBankState) Credit(t int16, amount int16) {
	s.record(t, s.balance+amount)
}

// Snapshot produces the BALANCE_HISTORY payload this child reports at
// DONE.
func (s *ChildBankState) Snapshot(owner types.LocalID) types.BalanceHistory {
	entries := make([]types.BalanceEntry, len(s.entries))
	copy(entries, s.entries)
	return types.BalanceHistory{Owner: owner, Entries: entries}
}

// Transfer runs the coordinator's half of one bank order (spec §4.7):
// send TRANSFER to src, then block for ACK from dst. The causal chain
// coordinator -> src -> dst -> coordinator is what lets reconciliation
// trust the reported histories.
func Transfer(cap Capability, events *EventLog, src, dst types.LocalID, amount int16) error {
	order := types.TransferOrder{Src: src, Dst: dst, Amount: amount}
	msg, err := cap.NewStamped(types.Transfer, types.EncodeTransfer(order))
	if err != nil {
		return err
	}
	if err := cap.Send(src, msg); err != nil {
		return fmt.Errorf("distlab: sending TRANSFER %d->%d to %d: %w", src, dst, src, err)
	}

	ack, err := cap.Receive(dst)
	if err != nil {
		return fmt.Errorf("distlab: waiting ACK from %d: %w", dst, err)
	}
	if ack.Header.Type != types.Ack {
		return fmt.Errorf("distlab: expected ACK from %d, got %s", dst, ack.Header.Type)
	}
	return nil
}

// Robbery is the externally supplied transfer schedule the coordinator
// runs between the barrier and STOP (spec §4.7, "bank_robbery").
type Robbery func(cap Capability, events *EventLog, childCount int) error

// RandomRobbery is a default Robbery: it issues count random transfers
// between distinct children, amounts in [1, maxAmount]. It is a
// reasonable default driver for both the CLI and tests; any caller may
// substitute their own schedule.
func RandomRobbery(count int, maxAmount int16, seed int64) Robbery {
	return func(cap Capability, events *EventLog, childCount int) error {
		if childCount < 2 {
			return nil
		}
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < count; i++ {
			src := types.LocalID(1 + rng.Intn(childCount))
			dst := types.LocalID(1 + rng.Intn(childCount))
			for dst == src {
				dst = types.LocalID(1 + rng.Intn(childCount))
			}
			amount := int16(1 + rng.Intn(int(maxAmount)))
			if err := Transfer(cap, events, src, dst, amount); err != nil {
				return err
			}
		}
		return nil
	}
}

// CoordinatorBank runs the coordinator's bank lifecycle (spec §4.7,
// steps 2-6): drive the robbery, STOP every child, wait all DONE,
// collect one BALANCE_HISTORY per child, then reconcile.
func CoordinatorBank(cap Capability, events *EventLog, initial map[types.LocalID]int16, robbery Robbery) (map[types.LocalID]types.BalanceHistory, error) {
	childCount := cap.N() - 1
	if robbery != nil {
		if err := robbery(cap, events, childCount); err != nil {
			return nil, fmt.Errorf("distlab: bank robbery: %w", err)
		}
	}

	stop, err := cap.NewStamped(types.Stop, nil)
	if err != nil {
		return nil, err
	}
	if err := cap.SendMulticast(stop); err != nil {
		return nil, fmt.Errorf("distlab: multicasting STOP: %w", err)
	}

	if err := waitAll(cap, types.Done); err != nil {
		return nil, err
	}

	raw := make(map[types.LocalID]types.BalanceHistory, childCount)
	for id := types.LocalID(1); int(id) <= childCount; id++ {
		msg, err := cap.Receive(id)
		if err != nil {
			return nil, fmt.Errorf("distlab: waiting BALANCE_HISTORY from %d: %w", id, err)
		}
		if msg.Header.Type != types.BalanceReport {
			return nil, fmt.Errorf("distlab: expected BALANCE_HISTORY from %d, got %s", id, msg.Header.Type)
		}
		hist, err := types.DecodeBalanceHistory(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("distlab: decoding BALANCE_HISTORY from %d: %w", id, err)
		}
		raw[id] = hist
	}

	return ReconcileHistories(initial, raw), nil
}

// ReconcileHistories extends every child's history to the uniform
// length T = max history length across children, filling any gap (a
// sentinel-time slot, or an index beyond that child's own recorded
// length) by carrying the previous entry's balance forward with
// pending_in = 0 (spec §4.7 "Reconciliation").
func ReconcileHistories(initial map[types.LocalID]int16, raw map[types.LocalID]types.BalanceHistory) map[types.LocalID]types.BalanceHistory {
	t := 0
	for _, h := range raw {
		if len(h.Entries) > t {
			t = len(h.Entries)
		}
	}

	out := make(map[types.LocalID]types.BalanceHistory, len(raw))
	for id, h := range raw {
		entries := make([]types.BalanceEntry, t)
		prev := initial[id]
		for i := 0; i < t; i++ {
			if i < len(h.Entries) && h.Entries[i].Time != types.UnsetTime {
				entries[i] = h.Entries[i]
				prev = entries[i].Balance
			} else {
				entries[i] = types.BalanceEntry{Balance: prev, Time: int16(i), PendingIn: 0}
			}
		}
		out[id] = types.BalanceHistory{Owner: id, Entries: entries}
	}
	return out
}

// ChildBank runs a child's bank lifecycle (spec §4.7): absorb TRANSFER
// orders and STOP until told to stop, multicast DONE, then keep
// draining straggler TRANSFERs until every other child's DONE has been
// observed, and finally report the accumulated history.
func ChildBank(cap Capability, events *EventLog, state *ChildBankState) error {
	for {
		_, msg, err := cap.ReceiveAny()
		if err != nil {
			return err
		}
		switch msg.Header.Type {
		case types.Transfer:
			if err := absorbTransfer(cap, events, state, msg); err != nil {
				return err
			}
		case types.Stop:
			goto stopped
		default:
			return fmt.Errorf("distlab: unexpected %s while awaiting STOP", msg.Header.Type)
		}
	}
stopped:

	done, err := cap.NewStamped(types.Done, nil)
	if err != nil {
		return err
	}
	events.Emit(EventDone, done.Header.LogicalTime, cap.ID())
	if err := cap.SendMulticast(done); err != nil {
		return fmt.Errorf("distlab: multicasting DONE: %w", err)
	}

	doneCount := 0
	wantDone := cap.N() - 2
	for doneCount < wantDone {
		_, msg, err := cap.ReceiveAny()
		if err != nil {
			return err
		}
		switch msg.Header.Type {
		case types.Transfer:
			if err := absorbTransfer(cap, events, state, msg); err != nil {
				return err
			}
		case types.Done:
			doneCount++
		default:
			return fmt.Errorf("distlab: unexpected %s while draining stragglers", msg.Header.Type)
		}
	}
	events.Emit(EventReceivedAllDone, cap.Clock().Time(), cap.ID())

	hist := state.Snapshot(cap.ID())
	payload, err := types.EncodeBalanceHistory(hist)
	if err != nil {
		return err
	}
	report, err := cap.NewStamped(types.BalanceReport, payload)
	if err != nil {
		return err
	}
	return cap.Send(types.ParentID, report)
}

func absorbTransfer(cap Capability, events *EventLog, state *ChildBankState, msg types.Message) error {
	order, err := types.DecodeTransfer(msg.Payload)
	if err != nil {
		return err
	}
	t := cap.Clock().Time()
	switch cap.ID() {
	case order.Src:
		state.Debit(t, order.Amount)
		events.Emit(EventTransferOut, t, cap.ID(), order.Dst, order.Amount)
		fwd, err := cap.NewStamped(types.Transfer, types.EncodeTransfer(order))
		if err != nil {
			return err
		}
		return cap.Send(order.Dst, fwd)
	case order.Dst:
		state.Credit(t, order.Amount)
		events.Emit(EventTransferIn, t, cap.ID(), order.Src, order.Amount)
		ack, err := cap.NewStamped(types.Ack, nil)
		if err != nil {
			return err
		}
		return cap.Send(types.ParentID, ack)
	default:
		return fmt.Errorf("distlab: TRANSFER %d->%d delivered to uninvolved peer %d", order.Src, order.Dst, cap.ID())
	}
}
