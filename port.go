// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

package oatmeal

import (
	"runtime"

	"github.com/oatmeal-protocol/oatmeal/arg"
)

// A Transport is the byte-stream collaborator a Port reads from and
// writes to: typically a UART, but any ordered byte pipe works.
//
// Read must not block waiting for input: it returns whatever is ready, up
// to len(p), and (0, nil) when nothing is ready. Available is a hint of
// how many bytes a Read would return and may overreport. Write may block
// on a slow line; that is a transport property the protocol does not
// mitigate. Millis is a monotonic millisecond clock used for heartbeat
// pacing.
type Transport interface {
	Available() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Millis() uint32
}

// Receiver states, advanced one input byte at a time.
type recvState byte

const (
	waitStart recvState = iota // scanning for '<'
	waitEnd                    // inside a frame, scanning for '>'
	waitLen                    // next byte is the length check byte
	waitSum                    // next byte is the content check byte
)

// Fallback identity values reported in discovery replies when the caller
// supplies none.
const (
	defaultHardwareID = "UNDEF_ID"
	defaultVersion    = "UNDEF_VER"
)

const nTokenChars = len(arg.TokenChars)

// A Port sends and receives Oatmeal frames over a Transport. It owns a
// small receive buffer, the message statistics, and the state needed to
// answer the built-in protocol requests (discovery, heartbeat toggle,
// logging toggle).
//
// A Port is not safe for concurrent use; drive it from a single loop.
type Port struct {
	t     Transport
	state recvState

	// Receive buffer. Bytes [bStart,bMid) belong to a candidate frame
	// under consideration; [bMid,bEnd) are unprocessed. The padding past
	// MaxMsgLen leaves room for a full frame preceded by noise bytes.
	buf                [MaxMsgLen + 8]byte
	bStart, bMid, bEnd int

	msgIn Msg // most recent received message, overwritten by each Recv

	// Identity reported in discovery replies.
	role        string
	instanceIdx uint32
	hardwareID  string
	version     string

	token    int
	tokenBuf [TokenLen]byte

	sendLogging    bool
	sendHeartbeats bool
	lastBeatMS     uint32
	beatSent       bool // SendHeartbeatNow has reported true at least once
	beatPeriodMS   uint32
	startMS        uint32

	err error // last transport read error, if any

	// Streaming output state.
	outLen  int
	outSum  uint8
	lastChr byte
	wbuf    [1]byte

	// AvailRAM, if set, overrides the free-memory estimate reported in
	// status heartbeats.
	AvailRAM func() int64

	// Stats counts receive-side errors and traffic. UnknownOpcode and
	// BadMessage are maintained by the caller.
	Stats Stats
}

// NewPort creates a Port on the given transport. The role string names
// the behaviour of this endpoint and is echoed in discovery replies.
// Heartbeats are enabled by default with a zero period; use
// SetHeartbeatPeriod to pace them.
func NewPort(t Transport, role string) *Port {
	p := &Port{t: t, role: role, sendHeartbeats: true, startMS: t.Millis()}
	copy(p.tokenBuf[:], "aa")
	return p
}

// SetIdentity sets the instance index, hardware ID and version string
// reported in discovery replies. It returns p to permit chaining.
func (p *Port) SetIdentity(instanceIdx uint32, hardwareID, version string) *Port {
	p.instanceIdx = instanceIdx
	p.hardwareID = hardwareID
	p.version = version
	return p
}

// Err reports the most recent transport read error, or nil.
func (p *Port) Err() error { return p.err }

// NextToken advances the cyclic token counter and returns the token to
// use for the next originated message. Not safe for concurrent use.
func (p *Port) NextToken() string {
	p.token = (p.token + 1) % (nTokenChars * nTokenChars)
	p.tokenBuf[0] = arg.TokenChars[p.token/nTokenChars]
	p.tokenBuf[1] = arg.TokenChars[p.token%nTokenChars]
	return string(p.tokenBuf[:])
}

// fill shifts the live region of the receive buffer to the front and
// performs one non-blocking read from the transport. It reports whether
// unprocessed bytes are available.
func (p *Port) fill() bool {
	// A candidate frame that has already reached the length cap can never
	// validate; abandon it.
	if p.bMid-p.bStart >= MaxMsgLen {
		p.bStart = p.bMid
		p.state = waitStart
		p.Stats.FrameTooLong++
		portMetrics.frameErrors.Add(1)
	}
	if p.bStart == p.bEnd {
		p.bStart, p.bMid, p.bEnd = 0, 0, 0
	} else if p.bStart > 0 {
		copy(p.buf[:], p.buf[p.bStart:p.bEnd])
		p.bMid -= p.bStart
		p.bEnd -= p.bStart
		p.bStart = 0
	}
	n := min(p.t.Available(), len(p.buf)-p.bEnd)
	if n > 0 {
		nr, err := p.t.Read(p.buf[p.bEnd : p.bEnd+n])
		if err != nil {
			p.err = err
		}
		p.bEnd += nr
		p.Stats.BytesRead += uint64(nr)
		portMetrics.bytesRead.Add(int64(nr))
	}
	return p.bMid < p.bEnd
}

// consume advances the receiver state machine over the unprocessed bytes.
// On locating a complete, valid frame it copies it into msgIn and reports
// true; invalid candidates are dropped with a counter increment.
func (p *Port) consume() bool {
	for ; p.bMid < p.bEnd; p.bMid++ {
		c := p.buf[p.bMid]
		switch {
		case c == 0 || c > 0x7f:
			// Bytes that can never appear in a frame reset the scan.
			p.bStart = p.bMid
			p.state = waitStart
			p.Stats.IllegalChar++
			portMetrics.frameErrors.Add(1)

		case c == arg.StartByte:
			// A start byte begins a frame regardless of the current state.
			if p.state != waitStart {
				p.Stats.MissingEnd++
				portMetrics.frameErrors.Add(1)
			}
			p.bStart = p.bMid
			p.state = waitEnd

		case p.state == waitStart:
			p.bStart = p.bMid
			if c == arg.EndByte {
				p.Stats.MissingStart++
				portMetrics.frameErrors.Add(1)
			}

		case p.state == waitEnd:
			if c == arg.EndByte {
				p.state = waitLen
			}

		case p.state == waitLen:
			// Any byte is accepted as the length check byte.
			p.state = waitSum

		case p.state == waitSum:
			frame := p.buf[p.bStart : p.bMid+1]
			p.bStart = p.bMid + 1
			p.state = waitStart
			switch {
			case len(frame) < MinMsgLen:
				p.Stats.FrameTooShort++
				portMetrics.frameErrors.Add(1)
			case len(frame) > MaxMsgLen:
				p.Stats.FrameTooLong++
				portMetrics.frameErrors.Add(1)
			case !ValidateFrame(frame):
				p.Stats.BadChecksum++
				portMetrics.frameErrors.Add(1)
			default:
				p.msgIn.setFrame(frame)
				p.Stats.GoodFrames++
				portMetrics.goodFrames.Add(1)
				p.bMid++
				return true
			}
		}
	}
	return false
}

// Recv extracts the next complete, valid frame from the transport. It
// first drains buffered bytes, then performs at most one non-blocking
// read and tries again; it never waits for more input.
//
// The returned Msg is owned by the port and overwritten by the next call
// to Recv or CheckForMsgs; copy it if it must outlive the next poll.
func (p *Port) Recv() (*Msg, bool) {
	if p.consume() {
		return &p.msgIn, true
	}
	if p.fill() && p.consume() {
		return &p.msgIn, true
	}
	return nil, false
}

// CheckForMsgs is Recv with built-in requests (discovery, heartbeat
// toggle, logging toggle) answered transparently. It returns only
// messages the caller should handle.
func (p *Port) CheckForMsgs() (*Msg, bool) {
	for {
		msg, ok := p.Recv()
		if !ok {
			return nil, false
		}
		if !p.handleBuiltin(msg) {
			return msg, true
		}
	}
}

// handleBuiltin answers a built-in request and reports whether msg was
// consumed.
func (p *Port) handleBuiltin(msg *Msg) bool {
	var parser arg.Parser
	switch {
	case msg.IsOpcode(OpDiscoveryRequest):
		// No arguments to check.
		p.sendDiscoveryAck(msg.Token())
		return true

	case msg.IsOpcode(OpHeartbeatRequest):
		parser.Init(msg.Args())
		if v, ok := parser.Bool(); ok && parser.Finished() {
			p.SetHeartbeatsOn(v)
			p.SendAck(msg)
			return true
		}

	case msg.IsOpcode(OpLogRequest):
		parser.Init(msg.Args())
		if v, ok := parser.Bool(); ok && parser.Finished() {
			p.SetLoggingOn(v)
			p.SendAck(msg)
			return true
		}
	}
	return false
}

// sendDiscoveryAck reports role, instance_idx, hardware_id and version,
// echoing the token of the discovery request.
func (p *Port) sendDiscoveryAck(token string) {
	hwid, ver := p.hardwareID, p.version
	if hwid == "" {
		hwid = defaultHardwareID
	}
	if ver == "" {
		ver = defaultVersion
	}
	p.Start("DIS", FlagAck, token)
	p.AppendString(p.role)
	p.AppendUint(uint64(p.instanceIdx))
	p.AppendString(hwid)
	p.AppendString(ver)
	p.Finish()
}

// Send transmits a finished message followed by the frame-terminating
// newline.
func (p *Port) Send(msg *Msg) { p.sendFrame(msg.Frame()) }

func (p *Port) sendFrame(frame []byte) {
	p.t.Write(frame)
	p.wbuf[0] = '\n'
	p.t.Write(p.wbuf[:])
	p.Stats.FramesWritten++
	portMetrics.framesWritten.Add(1)
}

// SendResponse sends an argument-free reply with the given flag, echoing
// the command and token of msg.
func (p *Port) SendResponse(msg *Msg, flag byte) {
	p.Start(msg.Command(), flag, msg.Token())
	p.Finish()
}

// SendAck sends an acknowledged reply to msg.
func (p *Port) SendAck(msg *Msg) { p.SendResponse(msg, FlagAck) }

// SendDone sends a done reply to msg.
func (p *Port) SendDone(msg *Msg) { p.SendResponse(msg, FlagDone) }

// SendFailed sends a failed reply to msg.
func (p *Port) SendFailed(msg *Msg) { p.SendResponse(msg, FlagFailed) }

/* ---------- Logging ---------- */

// SetLoggingOn enables or disables emission of LOGB messages.
func (p *Port) SetLoggingOn(on bool) { p.sendLogging = on }

// LoggingOn reports whether LOGB emission is enabled.
func (p *Port) LoggingOn() bool { return p.sendLogging }

// Log emits a LOGB message with the given level and text, if logging is
// enabled. Levels are free-form strings; DEBUG, INFO, WARNING, ERROR and
// CRITICAL are conventional.
func (p *Port) Log(level, text string) {
	if !p.sendLogging {
		return
	}
	p.Start("LOG", FlagBackground, p.NextToken())
	p.AppendString(level)
	p.AppendString(text)
	p.Finish()
}

// LogDebug emits a DEBUG-level log message.
func (p *Port) LogDebug(text string) { p.Log("DEBUG", text) }

// LogInfo emits an INFO-level log message.
func (p *Port) LogInfo(text string) { p.Log("INFO", text) }

// LogWarning emits a WARNING-level log message.
func (p *Port) LogWarning(text string) { p.Log("WARNING", text) }

// LogError emits an ERROR-level log message.
func (p *Port) LogError(text string) { p.Log("ERROR", text) }

/* ---------- Heartbeats ---------- */

// SetHeartbeatsOn enables or disables heartbeat emission.
func (p *Port) SetHeartbeatsOn(on bool) { p.sendHeartbeats = on }

// HeartbeatsOn reports whether heartbeat emission is enabled.
func (p *Port) HeartbeatsOn() bool { return p.sendHeartbeats }

// SetHeartbeatPeriod sets the minimum time between heartbeats.
func (p *Port) SetHeartbeatPeriod(periodMS uint32) { p.beatPeriodMS = periodMS }

// SendHeartbeatNow reports whether the caller should emit a heartbeat
// now: heartbeats are enabled and at least the configured period has
// passed since the last time this method reported true. The first call
// with heartbeats enabled reports true.
func (p *Port) SendHeartbeatNow() bool {
	now := p.t.Millis()
	if p.sendHeartbeats && (!p.beatSent || now-p.lastBeatMS >= p.beatPeriodMS) {
		p.lastBeatMS = now
		p.beatSent = true
		return true
	}
	return false
}

// BuildStatusHeartbeat fills msg with a HRTB message carrying the
// standard status dict: the accumulated error counters (which are reset),
// the longest main-loop duration observed by the caller, a free-memory
// estimate in KiB, and the uptime in minutes.
func (p *Port) BuildStatusHeartbeat(msg *Msg, maxLoopMS uint32) {
	msg.Start("HRT", FlagBackground, p.NextToken())
	msg.AppendDictStart()
	p.Stats.FormatStats(msg)
	msg.AppendDictKeyUint("loop_ms", uint64(maxLoopMS))
	msg.AppendDictKeyInt("avail_kb", p.availKB())
	msg.AppendDictKeyUint("uptime", uint64((p.t.Millis()-p.startMS)/60000))
	msg.AppendDictEnd()
	msg.Finish()
}

func (p *Port) availKB() int64 {
	if p.AvailRAM != nil {
		return p.AvailRAM() / 1024
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapSys-ms.HeapInuse) / 1024
}

/* ---------- Streaming output ---------- */

// Start begins a streamed frame: the header bytes are written to the
// transport immediately and the checksums are maintained incrementally,
// so the frame is never buffered. The single-value, container and dict
// key Append methods of Msg are available, but not the combined
// AppendDictKey<Type> pair methods; call Finish to seal the frame.
// Streamed appends cannot be rolled back once written.
func (p *Port) Start(cmd string, flag byte, token string) {
	p.outLen, p.outSum = 0, 0
	p.writeByte(arg.StartByte)
	p.writeRaw(cmd)
	p.writeByte(flag)
	p.writeRaw(token)
}

// Finish seals a streamed frame with the end byte, both check bytes and
// the frame-terminating newline.
func (p *Port) Finish() {
	cl := LengthChecksum(p.outLen + 3)
	p.writeByte(arg.EndByte)
	p.writeByte(cl)
	// outSum now covers everything up to and including the length check
	// byte, which is exactly the content checksum's coverage.
	p.writeByte(checkByte(uint16(p.outSum)))
	p.wbuf[0] = '\n'
	p.t.Write(p.wbuf[:])
	p.Stats.FramesWritten++
	portMetrics.framesWritten.Add(1)
}

func (p *Port) writeByte(c byte) int {
	p.outSum = (p.outSum + c) * checkSumCoeff
	p.outLen++
	p.lastChr = c
	p.wbuf[0] = c
	p.t.Write(p.wbuf[:])
	return 1
}

func (p *Port) writeRaw(s string) int {
	for i := 0; i < len(s); i++ {
		p.writeByte(s[i])
	}
	return len(s)
}

func (p *Port) writeBytes(b []byte) int {
	for _, c := range b {
		p.writeByte(c)
	}
	return len(b)
}

func (p *Port) writeEscaped(c byte) int {
	if e, esc := arg.Escape(c); esc {
		return p.writeByte('\\') + p.writeByte(e)
	}
	return p.writeByte(c)
}

func (p *Port) sepIfNeeded() int {
	if p.outLen > argsOffset {
		switch p.lastChr {
		case arg.ListStart, arg.DictStart, arg.KeyValSep, arg.Sep:
		default:
			return p.writeByte(arg.Sep)
		}
	}
	return 0
}

// AppendInt streams a signed integer argument.
func (p *Port) AppendInt(v int64) int {
	n := p.sepIfNeeded()
	var tmp [20]byte
	k := arg.FormatInt(tmp[:], v)
	return n + p.writeBytes(tmp[:k])
}

// AppendUint streams an unsigned integer argument.
func (p *Port) AppendUint(v uint64) int {
	n := p.sepIfNeeded()
	var tmp [20]byte
	k := arg.FormatUint(tmp[:], v)
	return n + p.writeBytes(tmp[:k])
}

// AppendFloat streams a real argument with the default number of
// significant figures.
func (p *Port) AppendFloat(v float64) int {
	return p.AppendFloatSig(v, arg.DefaultSigFigs)
}

// AppendFloatSig streams a real argument. Non-finite values stream
// nothing and report 0.
func (p *Port) AppendFloatSig(v float64, sigFigs int) int {
	var tmp [24]byte
	k := arg.FormatFloat(tmp[:], v, sigFigs)
	if k == 0 {
		return 0
	}
	n := p.sepIfNeeded()
	return n + p.writeBytes(tmp[:k])
}

// AppendBool streams a boolean argument.
func (p *Port) AppendBool(v bool) int {
	n := p.sepIfNeeded()
	var tmp [1]byte
	arg.FormatBool(tmp[:], v)
	return n + p.writeByte(tmp[0])
}

// AppendString streams a quoted string argument.
func (p *Port) AppendString(s string) int {
	n := p.sepIfNeeded() + p.writeByte('"')
	for i := 0; i < len(s); i++ {
		n += p.writeEscaped(s[i])
	}
	return n + p.writeByte('"')
}

// AppendBytes streams a raw bytes argument.
func (p *Port) AppendBytes(b []byte) int {
	n := p.sepIfNeeded() + p.writeByte('0') + p.writeByte('"')
	for _, c := range b {
		n += p.writeEscaped(c)
	}
	return n + p.writeByte('"')
}

// AppendNone streams the null value N.
func (p *Port) AppendNone() int {
	return p.sepIfNeeded() + p.writeByte('N')
}

// AppendListStart streams a list opening delimiter.
func (p *Port) AppendListStart() int {
	return p.sepIfNeeded() + p.writeByte(arg.ListStart)
}

// AppendListEnd streams a list closing delimiter.
func (p *Port) AppendListEnd() int { return p.writeByte(arg.ListEnd) }

// AppendDictStart streams a dict opening delimiter.
func (p *Port) AppendDictStart() int {
	return p.sepIfNeeded() + p.writeByte(arg.DictStart)
}

// AppendDictEnd streams a dict closing delimiter.
func (p *Port) AppendDictEnd() int { return p.writeByte(arg.DictEnd) }

// AppendDictKey streams a dict key and its '='.
func (p *Port) AppendDictKey(key string) int {
	return p.sepIfNeeded() + p.writeRaw(key) + p.writeByte(arg.KeyValSep)
}

// WriteHex streams v as exactly 8 uppercase hex digits.
func (p *Port) WriteHex(v uint32) int {
	var tmp [8]byte
	arg.FormatHex(tmp[:], v)
	return p.writeBytes(tmp[:])
}
