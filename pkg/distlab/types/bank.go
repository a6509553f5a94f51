package types

import (
	"encoding/binary"
	"fmt"
)

// TransferOrder is the TRANSFER payload: src:i8, dst:i8, amount:i16.
type TransferOrder struct {
	Src    LocalID
	Dst    LocalID
	Amount int16
}

// EncodeTransfer packs a TransferOrder into its wire representation.
func EncodeTransfer(o TransferOrder) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(int8(o.Src))
	buf[1] = byte(int8(o.Dst))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(o.Amount))
	return buf
}

// DecodeTransfer unpacks a TRANSFER payload.
func DecodeTransfer(buf []byte) (TransferOrder, error) {
	if len(buf) != 4 {
		return TransferOrder{}, fmt.Errorf("distlab: bad TRANSFER payload length %d", len(buf))
	}
	return TransferOrder{
		Src:    LocalID(int8(buf[0])),
		Dst:    LocalID(int8(buf[1])),
		Amount: int16(binary.LittleEndian.Uint16(buf[2:4])),
	}, nil
}

// BalanceEntry is one slot of a child's balance history: balance:i16,
// time:i16, pending_in:i16. UnsetTime marks a slot never written by
// the child; the coordinator fills these during reconciliation.
type BalanceEntry struct {
	Balance   int16
	Time      int16
	PendingIn int16
}

// UnsetTime is the sentinel for a history slot that was never
// recorded by its owning child.
const UnsetTime int16 = -1

// BalanceHistory is the owner's balance trajectory, one entry per
// logical time index it has recorded so far.
type BalanceHistory struct {
	Owner   LocalID
	Entries []BalanceEntry
}

// EncodeBalanceHistory packs a BALANCE_HISTORY payload:
// owner:i8, len:u8, entries[len]{balance:i16, time:i16, pending_in:i16}.
func EncodeBalanceHistory(h BalanceHistory) ([]byte, error) {
	if len(h.Entries) > 255 {
		return nil, fmt.Errorf("distlab: history too long to encode (%d entries)", len(h.Entries))
	}
	buf := make([]byte, 2+6*len(h.Entries))
	buf[0] = byte(int8(h.Owner))
	buf[1] = byte(len(h.Entries))
	for i, e := range h.Entries {
		off := 2 + i*6
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(e.Balance))
		binary.LittleEndian.PutUint16(buf[off+2:off+4], uint16(e.Time))
		binary.LittleEndian.PutUint16(buf[off+4:off+6], uint16(e.PendingIn))
	}
	return buf, nil
}

// DecodeBalanceHistory unpacks a BALANCE_HISTORY payload.
func DecodeBalanceHistory(buf []byte) (BalanceHistory, error) {
	if len(buf) < 2 {
		return BalanceHistory{}, fmt.Errorf("distlab: short BALANCE_HISTORY payload")
	}
	owner := LocalID(int8(buf[0]))
	n := int(buf[1])
	if len(buf) != 2+6*n {
		return BalanceHistory{}, fmt.Errorf("distlab: BALANCE_HISTORY length mismatch: want %d got %d", 2+6*n, len(buf))
	}
	entries := make([]BalanceEntry, n)
	for i := 0; i < n; i++ {
		off := 2 + i*6
		entries[i] = BalanceEntry{
			Balance:   int16(binary.LittleEndian.Uint16(buf[off : off+2])),
			Time:      int16(binary.LittleEndian.Uint16(buf[off+2 : off+4])),
			PendingIn: int16(binary.LittleEndian.Uint16(buf[off+4 : off+6])),
		}
	}
	return BalanceHistory{Owner: owner, Entries: entries}, nil
}
