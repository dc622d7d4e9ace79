// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

// Package arg provides support for formatting and parsing the typed,
// comma-separated argument payload of an Oatmeal frame.
//
// Formatting functions write a single value into a caller-provided buffer
// and report the number of bytes written, with zero meaning the value did
// not fit or is not representable. Parsing functions consume a single value
// from the front of a buffer and report the number of bytes consumed, with
// zero meaning no valid value was found. A failed call never modifies the
// caller's view of the input.
package arg

import (
	"math"
	"strconv"

	"github.com/creachadair/mds/value"
)

// Structural bytes of the frame and argument grammar.
const (
	StartByte = '<' // marks the start of a frame
	EndByte   = '>' // marks the end of a frame
	Sep       = ',' // separates arguments and container items
	ListStart = '[' // opens a list
	ListEnd   = ']' // closes a list
	DictStart = '{' // opens a dict
	DictEnd   = '}' // closes a dict
	KeyValSep = '=' // separates a dict key from its value
)

// TokenChars are the bytes used when generating message tokens. Any
// printable ASCII byte other than space and the frame delimiters is legal
// in a token, but generated tokens cycle through this alphabet.
const TokenChars = "0123456789" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz"

const (
	// DefaultSigFigs is the default number of significant figures used when
	// formatting real numbers.
	DefaultSigFigs = 6

	// MaxSigFigs is the largest usable significant-figures setting. Larger
	// requests are clamped so a formatted real never exceeds 21 bytes.
	MaxSigFigs = 14
)

const hexChars = "0123456789ABCDEF"

// Escape returns the escape code for c and whether c must be escaped
// inside a quoted string or bytes value.
func Escape(c byte) (byte, bool) {
	switch c {
	case '\\':
		return '\\', true
	case '"':
		return '"', true
	case '<':
		return '(', true
	case '>':
		return ')', true
	case '\n':
		return 'n', true
	case '\r':
		return 'r', true
	case 0:
		return '0', true
	}
	return c, false
}

// unescape reverses Escape. It reports false for an unknown escape code.
func unescape(c byte) (byte, bool) {
	switch c {
	case '\\':
		return '\\', true
	case '"':
		return '"', true
	case '(':
		return '<', true
	case ')':
		return '>', true
	case 'n':
		return '\n', true
	case 'r':
		return '\r', true
	case '0':
		return 0, true
	}
	return 0, false
}

// EncodeBytes writes the escaped representation of src into dst, without
// surrounding quotes. It returns the number of bytes written, or 0 if the
// encoded form does not fit in dst.
func EncodeBytes(dst, src []byte) int {
	di := 0
	for _, c := range src {
		e, esc := Escape(c)
		if esc {
			if di+2 > len(dst) {
				return 0
			}
			dst[di] = '\\'
			dst[di+1] = e
			di += 2
		} else {
			if di >= len(dst) {
				return 0
			}
			dst[di] = c
			di++
		}
	}
	return di
}

// decodeQuoted decodes a quoted body from the front of src into dst.
// src[0] must be '"'. It returns the number of decoded bytes stored in dst
// and the number of src bytes consumed, including both quotes. Both counts
// are zero on failure: an unknown escape, a bare frame delimiter, a full
// dst, or a missing closing quote.
func decodeQuoted(dst, src []byte) (dstLen, n int) {
	if len(src) == 0 || src[0] != '"' {
		return 0, 0
	}
	di := 0
	for i := 1; i < len(src); i++ {
		c := src[i]
		switch c {
		case '\\':
			i++
			if i >= len(src) {
				return 0, 0
			}
			u, ok := unescape(src[i])
			if !ok || di >= len(dst) {
				return 0, 0
			}
			dst[di] = u
			di++
		case '"':
			return di, i + 1
		case StartByte, EndByte:
			return 0, 0 // reserved for frame delimitation
		default:
			if di >= len(dst) {
				return 0, 0
			}
			dst[di] = c
			di++
		}
	}
	return 0, 0 // no closing quote
}

// FormatString writes s as a quoted string value into dst and returns the
// number of bytes written (0 if it does not fit).
func FormatString(dst []byte, s string) int {
	if len(dst) < 2 {
		return 0
	}
	n := EncodeBytes(dst[1:len(dst)-1], []byte(s))
	if len(s) > 0 && n == 0 {
		return 0
	}
	dst[0] = '"'
	dst[n+1] = '"'
	return n + 2
}

// FormatBytes writes b as a raw bytes value (leading '0', then quoted) into
// dst and returns the number of bytes written (0 if it does not fit).
func FormatBytes(dst, b []byte) int {
	if len(dst) < 3 {
		return 0
	}
	n := EncodeBytes(dst[2:len(dst)-1], b)
	if len(b) > 0 && n == 0 {
		return 0
	}
	dst[0] = '0'
	dst[1] = '"'
	dst[n+2] = '"'
	return n + 3
}

// FormatBool writes v as a single byte, T or F.
func FormatBool(dst []byte, v bool) int {
	if len(dst) < 1 {
		return 0
	}
	dst[0] = value.Cond[byte](v, 'T', 'F')
	return 1
}

// FormatNone writes the null value N.
func FormatNone(dst []byte) int {
	if len(dst) < 1 {
		return 0
	}
	dst[0] = 'N'
	return 1
}

// FormatInt writes the decimal representation of v into dst and returns
// the number of bytes written (0 if it does not fit).
func FormatInt(dst []byte, v int64) int {
	var tmp [20]byte
	out := strconv.AppendInt(tmp[:0], v, 10)
	if len(out) > len(dst) {
		return 0
	}
	return copy(dst, out)
}

// FormatUint writes the decimal representation of v into dst and returns
// the number of bytes written (0 if it does not fit).
func FormatUint(dst []byte, v uint64) int {
	var tmp [20]byte
	out := strconv.AppendUint(tmp[:0], v, 10)
	if len(out) > len(dst) {
		return 0
	}
	return copy(dst, out)
}

// FormatFloat writes v into dst using at most sigFigs significant figures,
// in decimal form for moderate magnitudes and scientific notation
// otherwise. Non-finite values are not representable and report 0.
func FormatFloat(dst []byte, v float64, sigFigs int) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if sigFigs < 1 {
		sigFigs = 1
	} else if sigFigs > MaxSigFigs {
		sigFigs = MaxSigFigs
	}
	var tmp [24]byte
	out := strconv.AppendFloat(tmp[:0], v, 'g', sigFigs, 64)
	if len(out) > len(dst) {
		return 0
	}
	return copy(dst, out)
}

// FormatHex writes v as exactly 8 uppercase hex digits.
func FormatHex(dst []byte, v uint32) int {
	if len(dst) < 8 {
		return 0
	}
	for i := 0; i < 8; i++ {
		dst[i] = hexChars[(v>>(28-i*4))&0xf]
	}
	return 8
}

// ParseInt parses a signed decimal integer from the front of src. The
// value must fit in a signed integer of the given bit size (8, 16, 32 or
// 64). It returns the value and the number of bytes consumed, 0 on
// failure.
func ParseInt(src []byte, bitSize int) (int64, int) {
	i, neg := 0, false
	if i < len(src) && (src[i] == '+' || src[i] == '-') {
		neg = src[i] == '-'
		i++
	}
	start := i
	var mag uint64
	for i < len(src) && '0' <= src[i] && src[i] <= '9' {
		d := uint64(src[i] - '0')
		if mag > (math.MaxUint64-d)/10 {
			return 0, 0
		}
		mag = mag*10 + d
		i++
	}
	if i == start {
		return 0, 0
	}
	lim := uint64(1) << (bitSize - 1)
	if neg {
		if mag > lim {
			return 0, 0
		}
		// Negating int64(1<<63) wraps back to MinInt64, which is the value
		// we want for the widest case.
		return -int64(mag), i
	}
	if mag >= lim {
		return 0, 0
	}
	return int64(mag), i
}

// ParseUint parses an unsigned decimal integer from the front of src. A
// leading '-' is a failure even for -0. It returns the value and the
// number of bytes consumed, 0 on failure.
func ParseUint(src []byte, bitSize int) (uint64, int) {
	i := 0
	if i < len(src) && src[i] == '+' {
		i++
	}
	start := i
	var v uint64
	for i < len(src) && '0' <= src[i] && src[i] <= '9' {
		d := uint64(src[i] - '0')
		if v > (math.MaxUint64-d)/10 {
			return 0, 0
		}
		v = v*10 + d
		i++
	}
	if i == start {
		return 0, 0
	}
	if bitSize < 64 && v > (uint64(1)<<bitSize)-1 {
		return 0, 0
	}
	return v, i
}

// floatPrefix reports the length of the longest prefix of src that is a
// decimal or scientific real number, 0 if there is none.
func floatPrefix(src []byte) int {
	i := 0
	if i < len(src) && (src[i] == '+' || src[i] == '-') {
		i++
	}
	digits := false
	for i < len(src) && '0' <= src[i] && src[i] <= '9' {
		i++
		digits = true
	}
	if i < len(src) && src[i] == '.' {
		i++
		for i < len(src) && '0' <= src[i] && src[i] <= '9' {
			i++
			digits = true
		}
	}
	if !digits {
		return 0
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && '0' <= src[j] && src[j] <= '9' {
			for j < len(src) && '0' <= src[j] && src[j] <= '9' {
				j++
			}
			i = j
		}
	}
	return i
}

// ParseFloat parses a real number from the front of src. The value must be
// representable at the given bit size (32 or 64). It returns the value and
// the number of bytes consumed, 0 on failure.
func ParseFloat(src []byte, bitSize int) (float64, int) {
	n := floatPrefix(src)
	if n == 0 {
		return 0, 0
	}
	v, err := strconv.ParseFloat(string(src[:n]), bitSize)
	if err != nil {
		return 0, 0
	}
	return v, n
}

// ParseBool parses a boolean from the front of src, accepting T, t, F and
// f. It returns the value and the number of bytes consumed (1), 0 on
// failure.
func ParseBool(src []byte) (bool, int) {
	if len(src) < 1 {
		return false, 0
	}
	switch src[0] {
	case 'T', 't':
		return true, 1
	case 'F', 'f':
		return false, 1
	}
	return false, 0
}

// ParseNull parses the null value N from the front of src and returns the
// number of bytes consumed (1), 0 on failure.
func ParseNull(src []byte) int {
	if len(src) > 0 && src[0] == 'N' {
		return 1
	}
	return 0
}

// ParseString decodes a quoted string value from the front of src into
// dst. It returns the number of decoded bytes stored in dst and the number
// of src bytes consumed, both 0 on failure.
func ParseString(dst, src []byte) (dstLen, n int) {
	return decodeQuoted(dst, src)
}

// ParseBytes decodes a raw bytes value (leading '0', then quoted) from the
// front of src into dst. It returns the number of decoded bytes stored in
// dst and the number of src bytes consumed, both 0 on failure.
func ParseBytes(dst, src []byte) (dstLen, n int) {
	if len(src) < 3 || src[0] != '0' {
		return 0, 0
	}
	dl, n := decodeQuoted(dst, src[1:])
	if n == 0 {
		return 0, 0
	}
	return dl, n + 1
}

// isKeyByte reports whether c may appear in a dict key.
func isKeyByte(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || c == '_'
}

// ParseDictKey parses a dict key from the front of src into dst. The key
// must be non-empty, match [A-Za-z0-9_]+ and be immediately followed by
// '='. It returns the length of the key (the '=' is not consumed), 0 on
// failure.
func ParseDictKey(dst, src []byte) int {
	n := 0
	for n < len(src) && isKeyByte(src[n]) {
		n++
	}
	if n == 0 || n >= len(src) || src[n] != KeyValSep || n > len(dst) {
		return 0
	}
	copy(dst, src[:n])
	return n
}
