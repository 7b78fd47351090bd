package algorithms

import (
	"errors"
	"fmt"

	"github.com/distcodep7/conference/dsnet"
)

var (
	// ErrProtocolViolation is fatal to the peer that detects it.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrMutualExclusion reports two peers holding the shared resource at once.
	ErrMutualExclusion = errors.New("mutual exclusion violated")
)

// ProtocolError describes a message a peer did not expect in its current state.
type ProtocolError struct {
	Peer  int
	State State
	From  int
	Want  dsnet.Kind
	Got   dsnet.Message
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: peer %d in state %s expected %s from %d, got %s",
		ErrProtocolViolation, e.Peer, e.State, e.Want, e.From, e.Got)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocolViolation
}
