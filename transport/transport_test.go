// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

package transport_test

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/oatmeal-protocol/oatmeal"
	"github.com/oatmeal-protocol/oatmeal/transport"
)

func TestPipe(t *testing.T) {
	a, b := transport.Pipe()

	if a.Available() != 0 {
		t.Error("fresh pipe reports bytes available")
	}
	var buf [16]byte
	if n, err := a.Read(buf[:]); n != 0 || err != nil {
		t.Errorf("Read on empty pipe: got (%d, %v)", n, err)
	}

	if n, err := a.Write([]byte("hello")); n != 5 || err != nil {
		t.Fatalf("Write: got (%d, %v)", n, err)
	}
	if got := b.Available(); got != 5 {
		t.Errorf("Available: got %d, want 5", got)
	}
	n, err := b.Read(buf[:])
	if err != nil || string(buf[:n]) != "hello" {
		t.Errorf("Read: got (%q, %v)", buf[:n], err)
	}
	if b.Available() != 0 {
		t.Error("drained pipe still reports bytes")
	}

	// The reverse direction is independent.
	b.Write([]byte("yo"))
	if a.Available() != 2 {
		t.Error("reverse direction not delivered")
	}
}

func TestPipeMillis(t *testing.T) {
	a, b := transport.Pipe()
	am, bm := a.Millis(), b.Millis()
	if am > 1000 || bm > 1000 {
		t.Errorf("fresh pipe clock too large: %d, %d", am, bm)
	}
	if a.Millis() < am {
		t.Error("clock went backwards")
	}
}

func TestIO(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("input bytes")
	tr := transport.IO(in, &out)

	if got := tr.Available(); got != oatmeal.MaxMsgLen {
		t.Errorf("Available without Buffered: got %d, want %d", got, oatmeal.MaxMsgLen)
	}
	var buf [32]byte
	n, err := tr.Read(buf[:])
	if err != nil || string(buf[:n]) != "input bytes" {
		t.Errorf("Read: got (%q, %v)", buf[:n], err)
	}
	if n, err := tr.Write([]byte("sent")); n != 4 || err != nil {
		t.Errorf("Write: got (%d, %v)", n, err)
	}
	if out.String() != "sent" {
		t.Errorf("writer saw %q", out.String())
	}
}

func TestIOBuffered(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("xyz"))
	br.Peek(3) // force a fill so Buffered is non-zero
	tr := transport.IO(br, new(bytes.Buffer))
	if got := tr.Available(); got != 3 {
		t.Errorf("Available with Buffered: got %d, want 3", got)
	}
}
