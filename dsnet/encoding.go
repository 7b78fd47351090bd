package dsnet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/distcodep7/conference/lamport"
)

var ErrMalformedMessage = errors.New("malformed message")

// MarshalText encodes m as a single line "kind\tsender\ttimestamp\n".
func (m Message) MarshalText() ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, int(m.Kind))
	}
	if m.From < 0 {
		return nil, fmt.Errorf("%w: negative sender %d", ErrMalformedMessage, m.From)
	}
	return fmt.Appendf(nil, "%d\t%d\t%d\n", int(m.Kind), m.From, uint64(m.Timestamp)), nil
}

// UnmarshalText decodes one wire line. Fields may be separated by any
// whitespace and the trailing newline is optional.
func (m *Message) UnmarshalText(text []byte) error {
	fields := strings.Fields(string(text))
	if len(fields) != 3 {
		return fmt.Errorf("%w: want 3 fields, got %d in %q", ErrMalformedMessage, len(fields), text)
	}

	kind, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("%w: kind: %v", ErrMalformedMessage, err)
	}
	if !Kind(kind).Valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, kind)
	}

	from, err := strconv.Atoi(fields[1])
	if err != nil || from < 0 {
		return fmt.Errorf("%w: sender %q", ErrMalformedMessage, fields[1])
	}

	ts, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp: %v", ErrMalformedMessage, err)
	}

	*m = Message{Kind: Kind(kind), From: from, Timestamp: lamport.Time(ts)}
	return nil
}

// ParseMessage decodes a single wire line.
func ParseMessage(line string) (Message, error) {
	var m Message
	err := m.UnmarshalText([]byte(line))
	return m, err
}
