// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

// Package oatmeal implements the Oatmeal serial protocol.
//
// Oatmeal is a framed, line-oriented messaging protocol for reliable
// bidirectional communication between a host computer and one or more
// embedded microcontrollers over a byte-stream transport, typically a
// UART. Each message is a self-delimited frame with a fixed-layout header
// (a three-byte command, a flag and a two-byte token) followed by a typed,
// comma-separated argument payload and two checksum bytes:
//
//	<CMDRxy[1,2,3],2>LJ
//
//	'<'           start of frame
//	"CMD"         command
//	'R'           flag
//	"xy"          token
//	"[1,2,3],2"   args
//	'>'           end of frame
//	'L'           length check byte
//	'J'           checksum
//
// Arguments may be integers, reals, booleans, strings, raw byte blobs, the
// null value N, and arbitrarily nested lists and dicts. The argument
// grammar is implemented by the arg package.
//
// # Messages
//
// A [Msg] owns a fixed-capacity buffer and is built incrementally: Start
// writes the header, the Append methods add arguments, and Finish seals
// the frame with the end byte and both checksums:
//
//	var msg oatmeal.Msg
//	msg.Start("RUN", oatmeal.FlagRequest, "aa")
//	msg.AppendFloat(1.23)
//	msg.AppendBool(true)
//	msg.AppendString("Hi!")
//	msg.Finish()
//
// Every append reports the number of bytes written, with zero meaning the
// value did not fit; a failed append leaves the frame unchanged, so a
// partially written structural element is never produced.
//
// # Ports
//
// A [Port] binds the protocol to a [Transport]. Its receiver is a
// non-blocking state machine that locates frame boundaries in the byte
// stream, validates checksums, and surfaces exactly the frames that are
// complete and correct:
//
//	port := oatmeal.NewPort(t, "ValveCluster")
//	for {
//	   if msg, ok := port.CheckForMsgs(); ok {
//	      handle(msg)
//	   }
//	   // ... rest of the main loop
//	}
//
// CheckForMsgs transparently answers the built-in discovery, heartbeat
// toggle and logging toggle requests; Recv surfaces every frame. Corrupted
// input never produces a message, only a counter increment in
// [Port.Stats]; the counters are reported out-of-band in the stats trailer
// of the next heartbeat.
//
// The port also offers a streaming variant of the builder API (Start,
// Append, Finish on the Port itself) that writes each byte to the
// transport as it is produced, maintaining the checksums incrementally so
// nothing needs to be buffered.
//
// All operations run on the caller's execution context: there is no
// internal goroutine, no lock, and no heap allocation on the send path. A
// single Port must not be used from multiple goroutines concurrently;
// distinct Ports on distinct Transports are independent.
package oatmeal

// Protocol and library versions. The major number increments on
// incompatible changes, the minor on compatible additions.
const (
	ProtocolVersionMajor = 1
	ProtocolVersionMinor = 0

	LibVersionMajor = 1
	LibVersionMinor = 1
)
