// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

package oatmeal

import (
	"fmt"

	"github.com/oatmeal-protocol/oatmeal/arg"
)

// Fixed frame layout.
const (
	CmdLen    = 3 // command length in bytes
	FlagLen   = 1
	TokenLen  = 2
	OpcodeLen = CmdLen + FlagLen // opcode is command+flag

	checksumLen   = 2 // length check byte, content check byte
	delimitersLen = 2 // '<' and '>'

	opcodeOffset = 1
	flagOffset   = 4
	tokenOffset  = 5
	argsOffset   = 7

	// MinMsgLen is the length of a frame with an empty argument payload.
	MinMsgLen = CmdLen + FlagLen + TokenLen + delimitersLen + checksumLen

	// MaxMsgLen caps the total frame length in bytes. Frames longer than
	// this are dropped by the receiver.
	MaxMsgLen = 127

	// maxFrameEnd is one past the highest offset an argument byte may
	// occupy, so that the end byte and both check bytes always fit.
	maxFrameEnd = MaxMsgLen - checksumLen - 1
)

// Flag values. A responder echoes the token of the originating request;
// background messages are unsolicited and never acknowledged.
const (
	FlagRequest    byte = 'R'
	FlagAck        byte = 'A'
	FlagDone       byte = 'D'
	FlagFailed     byte = 'F'
	FlagBackground byte = 'B'
)

// Reserved opcodes (command+flag) defined by the protocol.
const (
	OpDiscoveryRequest = "DISR" // discovery request, no args
	OpDiscoveryAck     = "DISA" // reply: role, instance_idx, hardware_id, version
	OpHeartbeatRequest = "HRTR" // heartbeat toggle, args (bool)
	OpHeartbeatAck     = "HRTA"
	OpHeartbeat        = "HRTB" // background heartbeat, dict of k=v
	OpLogRequest       = "LOGR" // logging toggle, args (bool)
	OpLogAck           = "LOGA"
	OpLog              = "LOGB" // background log message: level, text
	OpHaltRequest      = "HALR"
	OpHaltAck          = "HALA"
)

// A Msg is a single Oatmeal message backed by a fixed-capacity buffer.
// The zero value is empty and ready for use; Start begins a new frame and
// Finish seals it. A Msg must not be copied while a frame is under
// construction.
//
// Append methods insert a separator automatically when one is needed, and
// report the number of bytes written. A zero return means the value did
// not fit; the frame is left exactly as it was, so the caller may finish
// with fewer arguments, or abandon the message.
type Msg struct {
	buf [MaxMsgLen]byte
	n   int
}

// Start resets m and writes the frame header. The command must be exactly
// 3 bytes and the token exactly 2; Start panics otherwise. The caller is
// responsible for using only printable, non-delimiter bytes.
func (m *Msg) Start(cmd string, flag byte, token string) {
	if len(cmd) != CmdLen {
		panic(fmt.Sprintf("command %q is not %d bytes", cmd, CmdLen))
	}
	if len(token) != TokenLen {
		panic(fmt.Sprintf("token %q is not %d bytes", token, TokenLen))
	}
	m.buf[0] = arg.StartByte
	copy(m.buf[opcodeOffset:], cmd)
	m.buf[flagOffset] = flag
	copy(m.buf[tokenOffset:], token)
	m.n = argsOffset
}

// Finish seals the frame: it writes the end byte, the length check byte
// and the content check byte. No more arguments can be appended after
// Finish.
func (m *Msg) Finish() {
	// The length checksum covers the entire frame including the three
	// bytes written here.
	cl := LengthChecksum(m.n + 3)
	m.buf[m.n] = arg.EndByte
	m.n++
	m.buf[m.n] = cl
	m.n++
	// The content checksum covers everything before it, including the
	// length check byte.
	m.buf[m.n] = Checksum(m.buf[:m.n])
	m.n++
}

// write appends a single raw byte, leaving room for the frame tail.
func (m *Msg) write(c byte) int {
	if m.n < maxFrameEnd {
		m.buf[m.n] = c
		m.n++
		return 1
	}
	return 0
}

// writeString appends raw bytes, all or nothing.
func (m *Msg) writeString(s string) int {
	if m.n+len(s) > maxFrameEnd {
		return 0
	}
	copy(m.buf[m.n:], s)
	m.n += len(s)
	return len(s)
}

// reset rolls the cursor back to orig and reports failure.
func (m *Msg) reset(orig int) int {
	m.n = orig
	return 0
}

// sepIfNeeded writes a separator unless the previous byte opens a
// container, introduces a dict value, or is itself a separator.
func (m *Msg) sepIfNeeded() int {
	if m.n > argsOffset {
		switch m.buf[m.n-1] {
		case arg.ListStart, arg.DictStart, arg.KeyValSep, arg.Sep:
		default:
			return m.write(arg.Sep)
		}
	}
	return 0
}

// AppendInt appends a signed integer argument.
func (m *Msg) AppendInt(v int64) int {
	orig := m.n
	m.sepIfNeeded()
	n := arg.FormatInt(m.buf[m.n:maxFrameEnd], v)
	if n == 0 {
		return m.reset(orig)
	}
	m.n += n
	return m.n - orig
}

// AppendUint appends an unsigned integer argument.
func (m *Msg) AppendUint(v uint64) int {
	orig := m.n
	m.sepIfNeeded()
	n := arg.FormatUint(m.buf[m.n:maxFrameEnd], v)
	if n == 0 {
		return m.reset(orig)
	}
	m.n += n
	return m.n - orig
}

// AppendFloat appends a real argument with the default number of
// significant figures.
func (m *Msg) AppendFloat(v float64) int {
	return m.AppendFloatSig(v, arg.DefaultSigFigs)
}

// AppendFloatSig appends a real argument with at most sigFigs significant
// figures. Non-finite values are rejected.
func (m *Msg) AppendFloatSig(v float64, sigFigs int) int {
	orig := m.n
	m.sepIfNeeded()
	n := arg.FormatFloat(m.buf[m.n:maxFrameEnd], v, sigFigs)
	if n == 0 {
		return m.reset(orig)
	}
	m.n += n
	return m.n - orig
}

// AppendBool appends a boolean argument (T or F).
func (m *Msg) AppendBool(v bool) int {
	orig := m.n
	m.sepIfNeeded()
	n := arg.FormatBool(m.buf[m.n:maxFrameEnd], v)
	if n == 0 {
		return m.reset(orig)
	}
	m.n += n
	return m.n - orig
}

// AppendString appends a quoted string argument, escaping as needed.
func (m *Msg) AppendString(s string) int {
	orig := m.n
	m.sepIfNeeded()
	n := arg.FormatString(m.buf[m.n:maxFrameEnd], s)
	if n == 0 {
		return m.reset(orig)
	}
	m.n += n
	return m.n - orig
}

// AppendBytes appends a raw bytes argument (0"..."), escaping as needed.
func (m *Msg) AppendBytes(b []byte) int {
	orig := m.n
	m.sepIfNeeded()
	n := arg.FormatBytes(m.buf[m.n:maxFrameEnd], b)
	if n == 0 {
		return m.reset(orig)
	}
	m.n += n
	return m.n - orig
}

// AppendNone appends the null value N.
func (m *Msg) AppendNone() int {
	orig := m.n
	m.sepIfNeeded()
	if m.write('N') == 0 {
		return m.reset(orig)
	}
	return m.n - orig
}

// AppendListStart opens a list.
func (m *Msg) AppendListStart() int {
	orig := m.n
	m.sepIfNeeded()
	if m.write(arg.ListStart) == 0 {
		return m.reset(orig)
	}
	return m.n - orig
}

// AppendListEnd closes a list.
func (m *Msg) AppendListEnd() int { return m.write(arg.ListEnd) }

// AppendDictStart opens a dict.
func (m *Msg) AppendDictStart() int {
	orig := m.n
	m.sepIfNeeded()
	if m.write(arg.DictStart) == 0 {
		return m.reset(orig)
	}
	return m.n - orig
}

// AppendDictEnd closes a dict.
func (m *Msg) AppendDictEnd() int { return m.write(arg.DictEnd) }

// AppendDictKey appends a dict key and its '='. Append a value afterwards.
func (m *Msg) AppendDictKey(key string) int {
	orig := m.n
	m.sepIfNeeded()
	if m.writeString(key) == 0 || m.write(arg.KeyValSep) == 0 {
		return m.reset(orig)
	}
	return m.n - orig
}

// AppendDictKeyInt appends key=value for a signed integer value. The pair
// is appended atomically: on overflow nothing is written.
func (m *Msg) AppendDictKeyInt(key string, v int64) int {
	orig := m.n
	if m.AppendDictKey(key) == 0 || m.AppendInt(v) == 0 {
		return m.reset(orig)
	}
	return m.n - orig
}

// AppendDictKeyUint appends key=value for an unsigned integer value.
func (m *Msg) AppendDictKeyUint(key string, v uint64) int {
	orig := m.n
	if m.AppendDictKey(key) == 0 || m.AppendUint(v) == 0 {
		return m.reset(orig)
	}
	return m.n - orig
}

// AppendDictKeyFloat appends key=value for a real value with the default
// number of significant figures.
func (m *Msg) AppendDictKeyFloat(key string, v float64) int {
	return m.AppendDictKeyFloatSig(key, v, arg.DefaultSigFigs)
}

// AppendDictKeyFloatSig appends key=value for a real value.
func (m *Msg) AppendDictKeyFloatSig(key string, v float64, sigFigs int) int {
	orig := m.n
	if m.AppendDictKey(key) == 0 || m.AppendFloatSig(v, sigFigs) == 0 {
		return m.reset(orig)
	}
	return m.n - orig
}

// AppendDictKeyBool appends key=value for a boolean value.
func (m *Msg) AppendDictKeyBool(key string, v bool) int {
	orig := m.n
	if m.AppendDictKey(key) == 0 || m.AppendBool(v) == 0 {
		return m.reset(orig)
	}
	return m.n - orig
}

// AppendDictKeyString appends key=value for a string value.
func (m *Msg) AppendDictKeyString(key, v string) int {
	orig := m.n
	if m.AppendDictKey(key) == 0 || m.AppendString(v) == 0 {
		return m.reset(orig)
	}
	return m.n - orig
}

// AppendDictKeyBytes appends key=value for a raw bytes value.
func (m *Msg) AppendDictKeyBytes(key string, v []byte) int {
	orig := m.n
	if m.AppendDictKey(key) == 0 || m.AppendBytes(v) == 0 {
		return m.reset(orig)
	}
	return m.n - orig
}

// WriteHex appends v as exactly 8 uppercase hex digits, without separator
// handling or quoting. It is intended for composing identifier strings
// from hardware registers between explicit quote bytes.
func (m *Msg) WriteHex(v uint32) int {
	if m.n+8 > maxFrameEnd {
		return 0
	}
	arg.FormatHex(m.buf[m.n:], v)
	m.n += 8
	return 8
}

// Frame returns the frame bytes accumulated so far. After Finish the slice
// is the complete frame. The Msg retains ownership; the caller must not
// modify the contents.
func (m *Msg) Frame() []byte { return m.buf[:m.n] }

// Len reports the current frame length in bytes.
func (m *Msg) Len() int { return m.n }

// Opcode returns the 4-byte command+flag.
func (m *Msg) Opcode() string { return string(m.buf[opcodeOffset : opcodeOffset+OpcodeLen]) }

// Command returns the 3-byte command.
func (m *Msg) Command() string { return string(m.buf[opcodeOffset : opcodeOffset+CmdLen]) }

// Flag returns the flag byte.
func (m *Msg) Flag() byte { return m.buf[flagOffset] }

// Token returns the 2-byte token.
func (m *Msg) Token() string { return string(m.buf[tokenOffset : tokenOffset+TokenLen]) }

// IsOpcode reports whether the message has the given command+flag.
func (m *Msg) IsOpcode(opcode string) bool {
	return string(m.buf[opcodeOffset:opcodeOffset+OpcodeLen]) == opcode
}

// IsCommand reports whether the message has the given command.
func (m *Msg) IsCommand(cmd string) bool {
	return string(m.buf[opcodeOffset:opcodeOffset+CmdLen]) == cmd
}

// IsBackground reports whether the message carries the background flag.
func (m *Msg) IsBackground() bool { return m.Flag() == FlagBackground }

// Args returns the argument payload of a complete frame. The Msg retains
// ownership of the returned slice.
func (m *Msg) Args() []byte {
	if m.n < MinMsgLen {
		return nil
	}
	return m.buf[argsOffset : m.n-checksumLen-1]
}

// Validate reports whether the accumulated frame is well formed.
func (m *Msg) Validate() bool { return ValidateFrame(m.Frame()) }

// CopyFrom makes m an identical copy of src.
func (m *Msg) CopyFrom(src *Msg) {
	m.n = copy(m.buf[:], src.Frame())
}

// setFrame replaces the contents of m with the given frame bytes.
func (m *Msg) setFrame(frame []byte) {
	m.n = copy(m.buf[:], frame)
}

// String returns a human-friendly rendering of the message.
func (m *Msg) String() string {
	if m.n < argsOffset {
		return fmt.Sprintf("Msg(%q)", m.buf[:m.n])
	}
	return fmt.Sprintf("Msg(%s %s %q)", m.Opcode(), m.Token(), m.Args())
}
