// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

// Package transport provides implementations of the oatmeal.Transport
// interface.
package transport

import (
	"io"
	"sync"
	"time"

	"github.com/oatmeal-protocol/oatmeal"
)

// Pipe constructs a connected pair of in-memory transports. Bytes written
// to A are readable from B and vice versa; reads never block. Both ends
// share a millisecond clock starting at zero.
//
// Each end is safe for use by one reader and one writer, which makes a
// pipe suitable for connecting two ports driven from different loops in
// tests.
func Pipe() (A, B oatmeal.Transport) {
	a2b := new(queue)
	b2a := new(queue)
	epoch := time.Now()
	A = &pipe{rd: b2a, wr: a2b, epoch: epoch}
	B = &pipe{rd: a2b, wr: b2a, epoch: epoch}
	return
}

// queue is an unbounded byte queue.
type queue struct {
	mu  sync.Mutex
	buf []byte
}

func (q *queue) write(p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = append(q.buf, p...)
	return len(p)
}

func (q *queue) read(p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

type pipe struct {
	rd, wr *queue
	epoch  time.Time
}

// Available implements a method of the [oatmeal.Transport] interface.
func (p *pipe) Available() int { return p.rd.len() }

// Read implements a method of the [oatmeal.Transport] interface. It
// returns (0, nil) when no bytes are pending.
func (p *pipe) Read(b []byte) (int, error) { return p.rd.read(b), nil }

// Write implements a method of the [oatmeal.Transport] interface.
func (p *pipe) Write(b []byte) (int, error) { return p.wr.write(b), nil }

// Millis implements a method of the [oatmeal.Transport] interface.
func (p *pipe) Millis() uint32 { return uint32(time.Since(p.epoch) / time.Millisecond) }

// IO adapts a reader and a writer to the oatmeal.Transport interface.
//
// The reader should not block indefinitely on an empty stream: a serial
// device configured with a short read timeout, or any reader that returns
// (0, nil) when no input is ready, works. If the reader exposes a
// Buffered method (as a bufio.Reader does) and that count is non-zero,
// Available reports it; otherwise Available reports a full frame's worth,
// since the adapter
// cannot know what is pending.
func IO(r io.Reader, w io.Writer) oatmeal.Transport {
	return &ioTransport{r: r, w: w, epoch: time.Now()}
}

type ioTransport struct {
	r     io.Reader
	w     io.Writer
	epoch time.Time
}

// Available implements a method of the [oatmeal.Transport] interface.
func (t *ioTransport) Available() int {
	if br, ok := t.r.(interface{ Buffered() int }); ok {
		if n := br.Buffered(); n > 0 {
			return n
		}
	}
	return oatmeal.MaxMsgLen
}

// Read implements a method of the [oatmeal.Transport] interface.
func (t *ioTransport) Read(p []byte) (int, error) { return t.r.Read(p) }

// Write implements a method of the [oatmeal.Transport] interface.
func (t *ioTransport) Write(p []byte) (int, error) { return t.w.Write(p) }

// Millis implements a method of the [oatmeal.Transport] interface.
func (t *ioTransport) Millis() uint32 { return uint32(time.Since(t.epoch) / time.Millisecond) }
