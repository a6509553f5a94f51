package core

import (
	"errors"
	"io"
	"os"
	"time"

	plog "github.com/prometheus/common/log"
	"github.com/vlebedev/distlab/pkg/distlab/types"
)

// ReadStatus is the outcome of a non-blocking read attempt, per spec
// §4.2: a receiver must be able to tell "nothing here yet" apart from
// "the writer is gone" without consuming a partial frame.
type ReadStatus int

const (
	ReadOK ReadStatus = iota
	ReadEmpty
	ReadClosed
	ReadError
)

// pollInterval is the deadline window used to probe a pipe end for
// readiness without blocking; it is the Go-idiomatic analogue of the
// original's fcntl(O_NONBLOCK)+EAGAIN probe.
const pollInterval = time.Microsecond

// FramedChannel is one directed link: the read end of the peer that
// sends to us, and the write end of the peer we send to. It wraps the
// two os.Pipe() halves this peer exclusively owns for one counterpart
// (spec §3 "Channel").
type FramedChannel struct {
	rfd *os.File
	wfd *os.File
}

// NewFramedChannel wraps an already-extracted pair of pipe ends.
func NewFramedChannel(rfd, wfd *os.File) *FramedChannel {
	return &FramedChannel{rfd: rfd, wfd: wfd}
}

// Close releases both ends this channel owns.
func (c *FramedChannel) Close() error {
	var err error
	if c.rfd != nil {
		if e := c.rfd.Close(); e != nil {
			err = e
		}
	}
	if c.wfd != nil {
		if e := c.wfd.Close(); e != nil {
			err = e
		}
	}
	return err
}

// Write sends msg in full, looping until every byte is handed to the
// kernel. It fails only on an unrecoverable write error.
func (c *FramedChannel) Write(msg types.Message) error {
	header := types.EncodeHeader(msg.Header)
	if err := writeFull(c.wfd, header); err != nil {
		return err
	}
	if len(msg.Payload) == 0 {
		return nil
	}
	return writeFull(c.wfd, msg.Payload)
}

func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// ReadBlocking reads exactly one frame, blocking until it is
// available. A premature end of stream is reported as io.ErrUnexpectedEOF.
func (c *FramedChannel) ReadBlocking() (types.Message, error) {
	headerBuf := make([]byte, types.HeaderSize())
	if err := readFull(c.rfd, headerBuf); err != nil {
		return types.Message{}, err
	}
	header, err := types.DecodeHeader(headerBuf)
	if err != nil {
		return types.Message{}, err
	}
	payload := make([]byte, header.PayloadLen)
	if header.PayloadLen > 0 {
		if err := readFull(c.rfd, payload); err != nil {
			return types.Message{}, err
		}
	}
	return types.Message{Header: header, Payload: payload}, nil
}

func readFull(r *os.File, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// ReadNonBlocking attempts to read a header without blocking. Once any
// header byte has been consumed the channel is committed to framing
// discipline and the payload read completes in blocking mode, exactly
// as spec §4.2 requires — a receiver must never observe half a frame.
func (c *FramedChannel) ReadNonBlocking() (types.Message, ReadStatus, error) {
	if err := c.rfd.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
		plog.Errorf("failed arming read deadline: %v", err)
		return types.Message{}, ReadError, err
	}
	defer c.rfd.SetReadDeadline(time.Time{})

	headerBuf := make([]byte, types.HeaderSize())
	n, err := c.rfd.Read(headerBuf)
	if n == 0 {
		if err == nil {
			return types.Message{}, ReadClosed, nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return types.Message{}, ReadEmpty, nil
		}
		if err == io.EOF {
			return types.Message{}, ReadClosed, nil
		}
		return types.Message{}, ReadError, err
	}

	// Committed: keep reading, blocking, until the header (and then
	// the payload) are complete.
	if n < len(headerBuf) {
		if err := readFullBlocking(c.rfd, headerBuf[n:]); err != nil {
			return types.Message{}, ReadError, err
		}
	}
	header, herr := types.DecodeHeader(headerBuf)
	if herr != nil {
		return types.Message{}, ReadError, herr
	}
	payload := make([]byte, header.PayloadLen)
	if header.PayloadLen > 0 {
		if err := readFullBlocking(c.rfd, payload); err != nil {
			return types.Message{}, ReadError, err
		}
	}
	return types.Message{Header: header, Payload: payload}, ReadOK, nil
}

// readFullBlocking is readFull but first clears any deadline left over
// from a non-blocking probe, so the remainder of a committed frame is
// read to completion regardless of the probe's tiny window.
func readFullBlocking(r *os.File, buf []byte) error {
	if err := r.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	return readFull(r, buf)
}
