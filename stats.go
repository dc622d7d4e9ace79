// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

package oatmeal

// Stats counts traffic and receive-side errors on a Port. Receive errors
// are silent at the protocol level: no NACK is ever sent, the counters
// are reported in the stats trailer of the next heartbeat and reset.
//
// UnknownOpcode and BadMessage are never set by the port itself; the
// caller increments them when a received message has an unexpected opcode
// or its arguments do not match the expected shape.
type Stats struct {
	FrameTooShort uint64
	FrameTooLong  uint64
	MissingStart  uint64
	MissingEnd    uint64
	BadChecksum   uint64
	IllegalChar   uint64

	BytesRead     uint64
	GoodFrames    uint64
	FramesWritten uint64

	UnknownOpcode uint64
	BadMessage    uint64
}

// Errors reports the total number of errors encountered.
func (s *Stats) Errors() uint64 {
	return s.FrameTooShort +
		s.FrameTooLong +
		s.MissingStart +
		s.MissingEnd +
		s.BadChecksum +
		s.IllegalChar +
		s.UnknownOpcode +
		s.BadMessage
}

// Reset clears all counters.
func (s *Stats) Reset() { *s = Stats{} }

// FormatStats appends the error counters to a heartbeat dict under
// construction as compact key=value pairs, then resets the counters. The
// trailer leads with the total under oatmeal_errs followed by the
// individual non-zero counters; nothing is appended when there are no
// errors. It returns the number of bytes appended.
func (s *Stats) FormatStats(m *Msg) int {
	orig := m.Len()
	if total := s.Errors(); total != 0 {
		m.AppendDictKeyUint("oatmeal_errs", total)
		if s.FrameTooShort != 0 {
			m.AppendDictKeyUint("sh", s.FrameTooShort)
		}
		if s.FrameTooLong != 0 {
			m.AppendDictKeyUint("lg", s.FrameTooLong)
		}
		if s.MissingStart != 0 {
			m.AppendDictKeyUint("ms", s.MissingStart)
		}
		if s.MissingEnd != 0 {
			m.AppendDictKeyUint("me", s.MissingEnd)
		}
		if s.BadChecksum != 0 {
			m.AppendDictKeyUint("bc", s.BadChecksum)
		}
		if s.IllegalChar != 0 {
			m.AppendDictKeyUint("bb", s.IllegalChar)
		}
		if s.UnknownOpcode != 0 {
			m.AppendDictKeyUint("uo", s.UnknownOpcode)
		}
		if s.BadMessage != 0 {
			m.AppendDictKeyUint("bm", s.BadMessage)
		}
	}
	s.Reset()
	return m.Len() - orig
}
