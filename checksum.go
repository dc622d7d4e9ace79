// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

package oatmeal

import "github.com/oatmeal-protocol/oatmeal/arg"

// Coefficients of the two frame check bytes.
const (
	checkLenCoeff = 7  // length checksum
	checkSumCoeff = 31 // content checksum
)

// checkByte maps v onto a printable ASCII byte, skipping the frame
// delimiters '<' and '>'.
func checkByte(v uint16) byte {
	b := byte(v%92) + 33
	if b >= arg.StartByte {
		b++
	}
	if b >= arg.EndByte {
		b++
	}
	return b
}

// LengthChecksum returns the length check byte for a frame of n bytes,
// where n counts the whole frame including both check bytes.
func LengthChecksum(n int) byte {
	return checkByte(uint16(n) * checkLenCoeff)
}

// Checksum returns the content check byte over buf. For a complete frame
// the checksum covers every byte up to and including the length check
// byte.
func Checksum(buf []byte) byte {
	var c uint8
	for _, b := range buf {
		c = (c + b) * checkSumCoeff
	}
	return checkByte(uint16(c))
}

// ValidateFrame reports whether frame is a well-formed Oatmeal frame:
// length within bounds, start and end bytes in place, and both check
// bytes matching.
func ValidateFrame(frame []byte) bool {
	n := len(frame)
	return n >= MinMsgLen &&
		n <= MaxMsgLen &&
		frame[0] == arg.StartByte &&
		frame[n-3] == arg.EndByte &&
		frame[n-2] == LengthChecksum(n) &&
		frame[n-1] == Checksum(frame[:n-1])
}
