package dsnet

import (
	"context"
	"fmt"
)

// inboxBuffer bounds the per-sender queue of a Node. Relayed messages are
// never dropped: the receive loop waits for room instead.
const inboxBuffer = 4 * LinkBuffer

// inbox demultiplexes the single relay stream of a Node into one FIFO queue
// per sender, so that Receive(from) only ever sees that sender's messages.
type inbox struct {
	queues map[int]chan Message
	closed <-chan struct{}
}

func newInbox(peers []int, closed <-chan struct{}) *inbox {
	in := &inbox{
		queues: make(map[int]chan Message, len(peers)),
		closed: closed,
	}
	for _, p := range peers {
		in.queues[p] = make(chan Message, inboxBuffer)
	}
	return in
}

// dispatch hands msg to the queue of its sender.
func (in *inbox) dispatch(msg Message) error {
	q, ok := in.queues[msg.From]
	if !ok {
		return fmt.Errorf("%w: message from %d", ErrUnknownPeer, msg.From)
	}
	select {
	case q <- msg:
		return nil
	case <-in.closed:
		return ErrChannelClosed
	}
}

func (in *inbox) receive(ctx context.Context, from int) (Message, error) {
	q, ok := in.queues[from]
	if !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownPeer, from)
	}

	select {
	case <-in.closed:
		return Message{}, ErrChannelClosed
	default:
	}

	select {
	case msg := <-q:
		return msg, nil
	case <-in.closed:
		return Message{}, ErrChannelClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}
