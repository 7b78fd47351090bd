// Package trace records a JSONL execution trace of a conference: one line per
// message sent or received and per table admission.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EvtType string

const (
	EvtTypeSend  EvtType = "SEND"
	EvtTypeRecv  EvtType = "RECV"
	EvtTypeEnter EvtType = "ENTER"
	EvtTypeLeave EvtType = "LEAVE"
)

// Broadcast is the To value of a send event addressed to every other peer.
const Broadcast = -1

// TraceEvent is one line of the trace.
type TraceEvent struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"` // Wall clock, unix nanoseconds
	EvtType   EvtType `json:"evt_type"`
	Peer      int     `json:"peer"`
	Round     int     `json:"round"`
	From      int     `json:"from"`
	To        int     `json:"to"`
	Kind      string  `json:"kind,omitempty"`
	Lamport   uint64  `json:"lamport"`
	Line      string  `json:"line,omitempty"`
}

// Recorder appends events to a writer. A nil *Recorder records nothing.
type Recorder struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// OpenFile starts a fresh trace at path. An existing file is truncated, so
// one file only ever holds the events of a single conference.
func OpenFile(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return NewRecorder(f), nil
}

// Record stamps evt with an id and wall time unless already set, and writes it.
func (r *Recorder) Record(evt TraceEvent) error {
	if r == nil {
		return nil
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixNano()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(evt)
}

func (r *Recorder) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadEvents decodes a whole trace.
func ReadEvents(rd io.Reader) ([]TraceEvent, error) {
	var events []TraceEvent
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var evt TraceEvent
		if err := json.Unmarshal(sc.Bytes(), &evt); err != nil {
			return events, fmt.Errorf("decode trace line %d: %w", len(events)+1, err)
		}
		events = append(events, evt)
	}
	return events, sc.Err()
}
