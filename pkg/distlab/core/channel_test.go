package core

import (
	"os"
	"testing"

	"github.com/vlebedev/distlab/pkg/distlab/types"
)

func newPipeChannelPair(t *testing.T) (*FramedChannel, *FramedChannel) {
	t.Helper()
	r1, w1, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	r2, w2, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	a := NewFramedChannel(r1, w2)
	b := NewFramedChannel(r2, w1)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestChannelRoundTrip(t *testing.T) {
	a, b := newPipeChannelPair(t)

	want, err := types.NewMessage(types.Started, 7, []byte("hello"))
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := a.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := b.ReadBlocking()
	if err != nil {
		t.Fatalf("ReadBlocking: %v", err)
	}
	if got.Header != want.Header {
		t.Fatalf("header mismatch: got %+v want %+v", got.Header, want.Header)
	}
	if string(got.Payload) != "hello" {
		t.Fatalf("payload mismatch: got %q", got.Payload)
	}
}

func TestChannelNonBlockingEmpty(t *testing.T) {
	a, _ := newPipeChannelPair(t)
	_, status, err := a.ReadNonBlocking()
	if err != nil {
		t.Fatalf("ReadNonBlocking: %v", err)
	}
	if status != ReadEmpty {
		t.Fatalf("want ReadEmpty on an idle channel, got %v", status)
	}
}

func TestChannelNonBlockingThenOK(t *testing.T) {
	a, b := newPipeChannelPair(t)
	msg, err := types.NewMessage(types.Done, 3, nil)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := a.Write(msg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, status, err := b.ReadNonBlocking()
	if err != nil {
		t.Fatalf("ReadNonBlocking: %v", err)
	}
	if status != ReadOK {
		t.Fatalf("want ReadOK, got %v", status)
	}
	if got.Header.Type != types.Done {
		t.Fatalf("wrong message type: %v", got.Header.Type)
	}
}

func TestChannelBadMagicIsFatal(t *testing.T) {
	a, b := newPipeChannelPair(t)
	msg, err := types.NewMessage(types.Started, 1, nil)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	corrupt := types.EncodeHeader(msg.Header)
	corrupt[0] ^= 0xFF // flip a magic byte

	if err := writeFull(rawWriter{a}, corrupt); err != nil {
		t.Fatalf("writing corrupted header: %v", err)
	}

	_, err = b.ReadBlocking()
	if err != types.ErrBadMagic {
		t.Fatalf("want ErrBadMagic, got %v", err)
	}
}

// rawWriter exposes a FramedChannel's write end for tests that need to
// push bytes that do not form a well-formed frame (e.g. a corrupted
// magic) to exercise ErrBadMagic.
type rawWriter struct {
	c *FramedChannel
}

func (w rawWriter) Write(p []byte) (int, error) {
	return w.c.wfd.Write(p)
}
