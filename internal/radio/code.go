package radio

import (
	"fmt"
	"strings"
)

// Bit is a single protocol symbol.
type Bit uint8

// Protocol symbols.
const (
	Zero Bit = 0
	One  Bit = 1
)

// Code is the bit sequence a receiver decodes as one command.
type Code []Bit

// ParseCode converts a string of '0' and '1' characters into a Code.
//
// Returns ErrInvalidCode if the string is empty or contains any other
// character (whitespace included).
func ParseCode(s string) (Code, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCode)
	}

	code := make(Code, 0, len(s))
	for i, r := range s {
		switch r {
		case '0':
			code = append(code, Zero)
		case '1':
			code = append(code, One)
		default:
			return nil, fmt.Errorf("%w: symbol %q at position %d", ErrInvalidCode, r, i)
		}
	}
	return code, nil
}

// String returns the code in the same form ParseCode accepts.
func (c Code) String() string {
	var b strings.Builder
	b.Grow(len(c))
	for _, bit := range c {
		if bit == One {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
