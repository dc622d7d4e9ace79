// Copyright (C) 2019 Shield Diagnostics and the Oatmeal Protocol contributors.

package arg

// maxPayload bounds scratch buffers used by the convenience parsers. An
// argument payload can never exceed the frame cap.
const maxPayload = 128

// A Parser consumes the argument payload of a message one value at a time.
// Every parse method is atomic: on success it consumes the value together
// with any pending separator and advances; on failure it reports false and
// leaves the parser state exactly as it was, so the caller can retry the
// same position with a different type.
//
// The parser operates read-only on the payload slice given to Init and
// never modifies the underlying bytes.
type Parser struct {
	rest       []byte
	needSep    bool // the next value must be preceded by a separator
	argsParsed bool // at least one value parsed at the current nesting level
	depth      int  // open list/dict nesting depth
}

// NewParser returns a parser positioned at the front of args.
func NewParser(args []byte) *Parser {
	p := new(Parser)
	p.Init(args)
	return p
}

// Init resets p to parse args from the beginning.
func (p *Parser) Init(args []byte) {
	p.rest = args
	p.needSep = false
	p.argsParsed = false
	p.depth = 0
}

// canParse reports whether a value may begin at the current position,
// possibly after a pending separator.
func (p *Parser) canParse() bool {
	return !p.needSep || (len(p.rest) > 0 && p.rest[0] == Sep)
}

// sepLen is the number of separator bytes preceding the next value.
func (p *Parser) sepLen() int {
	if p.needSep {
		return 1
	}
	return 0
}

func (p *Parser) chomp(n int) { p.rest = p.rest[n:] }

// value records a successful scalar parse of n+sep bytes.
func (p *Parser) value(n, sep int) {
	p.chomp(n + sep)
	p.argsParsed = true
	p.needSep = true
}

// Sep parses an explicit separator. It succeeds only when a separator is
// actually pending; the scalar parse methods consume pending separators
// themselves, so calling Sep is optional.
func (p *Parser) Sep() bool {
	if len(p.rest) == 0 || !p.needSep {
		return false
	}
	if p.rest[0] == Sep {
		p.chomp(1)
		p.needSep = false
		return true
	}
	return false
}

// Int parses a signed integer that fits in the given bit size.
func (p *Parser) Int(bitSize int) (int64, bool) {
	if !p.canParse() {
		return 0, false
	}
	sep := p.sepLen()
	v, n := ParseInt(p.rest[sep:], bitSize)
	if n == 0 {
		return 0, false
	}
	p.value(n, sep)
	return v, true
}

// Uint parses an unsigned integer that fits in the given bit size.
func (p *Parser) Uint(bitSize int) (uint64, bool) {
	if !p.canParse() {
		return 0, false
	}
	sep := p.sepLen()
	v, n := ParseUint(p.rest[sep:], bitSize)
	if n == 0 {
		return 0, false
	}
	p.value(n, sep)
	return v, true
}

// Float parses a real number representable at the given bit size.
func (p *Parser) Float(bitSize int) (float64, bool) {
	if !p.canParse() {
		return 0, false
	}
	sep := p.sepLen()
	v, n := ParseFloat(p.rest[sep:], bitSize)
	if n == 0 {
		return 0, false
	}
	p.value(n, sep)
	return v, true
}

// Bool parses a boolean value.
func (p *Parser) Bool() (bool, bool) {
	if !p.canParse() {
		return false, false
	}
	sep := p.sepLen()
	v, n := ParseBool(p.rest[sep:])
	if n == 0 {
		return false, false
	}
	p.value(n, sep)
	return v, true
}

// Null parses the null value N.
func (p *Parser) Null() bool {
	if !p.canParse() {
		return false
	}
	sep := p.sepLen()
	n := ParseNull(p.rest[sep:])
	if n == 0 {
		return false
	}
	p.value(n, sep)
	return true
}

// String parses a quoted string value, decoding it into dst. It returns
// the number of decoded bytes.
func (p *Parser) String(dst []byte) (int, bool) {
	if !p.canParse() {
		return 0, false
	}
	sep := p.sepLen()
	dl, n := ParseString(dst, p.rest[sep:])
	if n == 0 {
		return 0, false
	}
	p.value(n, sep)
	return dl, true
}

// Bytes parses a raw bytes value, decoding it into dst. It returns the
// number of decoded bytes.
func (p *Parser) Bytes(dst []byte) (int, bool) {
	if !p.canParse() {
		return 0, false
	}
	sep := p.sepLen()
	dl, n := ParseBytes(dst, p.rest[sep:])
	if n == 0 {
		return 0, false
	}
	p.value(n, sep)
	return dl, true
}

// collectionStart parses an opening list or dict delimiter.
func (p *Parser) collectionStart(open byte) bool {
	if !p.canParse() {
		return false
	}
	sep := p.sepLen()
	if len(p.rest) < sep+1 || p.rest[sep] != open {
		return false
	}
	p.chomp(sep + 1)
	p.depth++
	p.argsParsed = false
	p.needSep = false
	return true
}

// collectionEnd parses a closing list or dict delimiter. Closing right
// after a separator is invalid, so trailing separators are rejected.
func (p *Parser) collectionEnd(close byte) bool {
	if len(p.rest) == 0 || (p.argsParsed && !p.needSep) {
		return false
	}
	if p.depth == 0 || p.rest[0] != close {
		return false
	}
	p.chomp(1)
	p.depth--
	p.argsParsed = true
	p.needSep = true
	return true
}

// ListStart parses a list opening delimiter.
func (p *Parser) ListStart() bool { return p.collectionStart(ListStart) }

// ListEnd parses a list closing delimiter.
func (p *Parser) ListEnd() bool { return p.collectionEnd(ListEnd) }

// DictStart parses a dict opening delimiter.
func (p *Parser) DictStart() bool { return p.collectionStart(DictStart) }

// DictEnd parses a dict closing delimiter.
func (p *Parser) DictEnd() bool { return p.collectionEnd(DictEnd) }

// DictKey parses a dict key and its trailing '=' and copies the key into
// dst, returning the key length. The parser does not track whether it is
// inside a dict; the caller is responsible for sequencing DictStart,
// DictKey and values.
func (p *Parser) DictKey(dst []byte) (int, bool) {
	if !p.canParse() {
		return 0, false
	}
	sep := p.sepLen()
	n := ParseDictKey(dst, p.rest[sep:])
	if n == 0 {
		return 0, false
	}
	if len(p.rest) < sep+n+2 { // need at least one byte after the '='
		return 0, false
	}
	p.chomp(sep + n + 1)
	p.argsParsed = true
	p.needSep = false // the '=' stands in for the separator
	return n, true
}

// IntList parses a list of signed integers into dst. It returns the number
// of items parsed. It fails if the list holds more than len(dst) items.
func (p *Parser) IntList(dst []int64, bitSize int) (int, bool) {
	clone := *p
	if clone.needSep && !clone.Sep() {
		return 0, false
	}
	if !clone.ListStart() {
		return 0, false
	}
	n := 0
	for n < len(dst) {
		v, ok := clone.Int(bitSize)
		if !ok {
			break
		}
		dst[n] = v
		n++
	}
	if !clone.ListEnd() {
		return 0, false
	}
	*p = clone
	return n, true
}

// FloatList parses a list of real numbers into dst. It returns the number
// of items parsed.
func (p *Parser) FloatList(dst []float64) (int, bool) {
	clone := *p
	if clone.needSep && !clone.Sep() {
		return 0, false
	}
	if !clone.ListStart() {
		return 0, false
	}
	n := 0
	for n < len(dst) {
		v, ok := clone.Float(64)
		if !ok {
			break
		}
		dst[n] = v
		n++
	}
	if !clone.ListEnd() {
		return 0, false
	}
	*p = clone
	return n, true
}

// BoolList parses a list of booleans into dst. It returns the number of
// items parsed.
func (p *Parser) BoolList(dst []bool) (int, bool) {
	clone := *p
	if clone.needSep && !clone.Sep() {
		return 0, false
	}
	if !clone.ListStart() {
		return 0, false
	}
	n := 0
	for n < len(dst) {
		v, ok := clone.Bool()
		if !ok {
			break
		}
		dst[n] = v
		n++
	}
	if !clone.ListEnd() {
		return 0, false
	}
	*p = clone
	return n, true
}

// StringList parses a list of quoted strings into dst. It returns the
// number of items parsed.
func (p *Parser) StringList(dst []string) (int, bool) {
	clone := *p
	if clone.needSep && !clone.Sep() {
		return 0, false
	}
	if !clone.ListStart() {
		return 0, false
	}
	n := 0
	var tmp [maxPayload]byte
	for n < len(dst) {
		dl, ok := clone.String(tmp[:])
		if !ok {
			break
		}
		dst[n] = string(tmp[:dl])
		n++
	}
	if !clone.ListEnd() {
		return 0, false
	}
	*p = clone
	return n, true
}

// Finished reports whether the entire payload has been consumed, all
// containers are closed and no dangling separator remains.
func (p *Parser) Finished() bool {
	return len(p.rest) == 0 && p.depth == 0 && (!p.argsParsed || p.needSep)
}

// Value parses the next value of whatever type it turns out to be, for
// consumers that do not know the payload shape in advance. Scalars decode
// to int64, uint64, float64, bool, string or []byte; the null value
// decodes to an untyped nil; lists decode to []any and dicts to
// map[string]any, recursively.
func (p *Parser) Value() (any, bool) {
	if !p.canParse() {
		return nil, false
	}
	sep := p.sepLen()
	if len(p.rest) <= sep {
		return nil, false
	}
	switch c := p.rest[sep]; {
	case c == '"':
		var tmp [maxPayload]byte
		dl, ok := p.String(tmp[:])
		if !ok {
			return nil, false
		}
		return string(tmp[:dl]), true

	case c == '0' && len(p.rest) > sep+1 && p.rest[sep+1] == '"':
		var tmp [maxPayload]byte
		dl, ok := p.Bytes(tmp[:])
		if !ok {
			return nil, false
		}
		out := make([]byte, dl)
		copy(out, tmp[:dl])
		return out, true

	case c == ListStart:
		clone := *p
		if !clone.ListStart() {
			return nil, false
		}
		out := []any{}
		for {
			if clone.ListEnd() {
				*p = clone
				return out, true
			}
			v, ok := clone.Value()
			if !ok {
				return nil, false
			}
			out = append(out, v)
		}

	case c == DictStart:
		clone := *p
		if !clone.DictStart() {
			return nil, false
		}
		out := map[string]any{}
		for {
			if clone.DictEnd() {
				*p = clone
				return out, true
			}
			var key [maxPayload]byte
			kn, ok := clone.DictKey(key[:])
			if !ok {
				return nil, false
			}
			v, ok := clone.Value()
			if !ok {
				return nil, false
			}
			out[string(key[:kn])] = v
		}

	case c == 'T' || c == 't' || c == 'F' || c == 'f':
		v, ok := p.Bool()
		return v, ok

	case c == 'N':
		if p.Null() {
			return nil, true
		}
		return nil, false

	default:
		// Numeric: choose int or real by the shape of the prefix, so that
		// "1.2" does not half-parse as the integer 1.
		if isFloatShaped(p.rest[sep:]) {
			v, ok := p.Float(64)
			return v, ok
		}
		if v, ok := p.Int(64); ok {
			return v, true
		}
		if v, ok := p.Uint(64); ok {
			return v, true
		}
		v, ok := p.Float(64)
		return v, ok
	}
}

// isFloatShaped reports whether the leading number in src carries a
// fractional part or exponent.
func isFloatShaped(src []byte) bool {
	i := 0
	if i < len(src) && (src[i] == '+' || src[i] == '-') {
		i++
	}
	for i < len(src) && '0' <= src[i] && src[i] <= '9' {
		i++
	}
	return i < len(src) && (src[i] == '.' || src[i] == 'e' || src[i] == 'E')
}
