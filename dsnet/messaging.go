package dsnet

import (
	"fmt"

	"github.com/distcodep7/conference/lamport"
)

// Kind identifies one of the three protocol messages. The numeric values are
// part of the wire format.
type Kind int

const (
	Request Kind = iota
	Reply
	Exit
)

var kindLabels = map[Kind]string{
	Request: "request",
	Reply:   "reply",
	Exit:    "exit",
}

func (k Kind) String() string {
	if label, ok := kindLabels[k]; ok {
		return label
	}
	return "undefined"
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindLabels[k]
	return ok
}

// Message is exchanged between peers. It is a value and never mutated after
// being sent.
type Message struct {
	Kind      Kind
	From      int
	Timestamp lamport.Time
}

// String renders the message as e.g. "request(i = 1, T[i] = 6)".
func (m Message) String() string {
	return fmt.Sprintf("%s(i = %d, T[i] = %d)", m.Kind, m.From, m.Timestamp)
}
