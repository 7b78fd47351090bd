package controller

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/distcodep7/conference/logging"
	pb "github.com/distcodep7/conference/proto"
)

const (
	journalBuffer     = 10000
	journalBatch      = 500
	journalFlushEvery = 5 * time.Second
)

// StoredEnvelope is one line of the relay journal.
type StoredEnvelope struct {
	Id      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Time    int64  `json:"time"`
}

// Journal persists relayed envelopes as JSON lines. Writes happen in batches
// on a background goroutine; Record never blocks the relay and drops entries
// when the buffer is full.
type Journal struct {
	mu      sync.Mutex
	closed  bool
	dropped int

	ch     chan StoredEnvelope
	done   chan struct{}
	closer io.Closer
	logger log.Logger
}

func NewJournal(w io.Writer, logger log.Logger) *Journal {
	j := &Journal{
		ch:     make(chan StoredEnvelope, journalBuffer),
		done:   make(chan struct{}),
		logger: log.With(logging.OrNop(logger), "component", "journal"),
	}
	if c, ok := w.(io.Closer); ok {
		j.closer = c
	}
	go j.run(bufio.NewWriter(w))
	return j
}

// OpenJournal appends to the journal file at path.
func OpenJournal(path string, logger log.Logger) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return NewJournal(f, logger), nil
}

// Record queues env. A nil *Journal records nothing.
func (j *Journal) Record(env *pb.Envelope) {
	if j == nil {
		return
	}
	msg := StoredEnvelope{
		Id:      env.Id,
		From:    env.From,
		To:      env.To,
		Type:    env.Type,
		Payload: env.Payload,
		Time:    time.Now().UnixNano(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- msg:
	default:
		j.dropped++
	}
}

// Close flushes everything recorded so far.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	dropped := j.dropped
	j.mu.Unlock()

	<-j.done
	if dropped > 0 {
		level.Warn(j.logger).Log("msg", "journal dropped envelopes", "count", dropped)
	}
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

func (j *Journal) run(w *bufio.Writer) {
	defer close(j.done)

	ticker := time.NewTicker(journalFlushEvery)
	defer ticker.Stop()

	batch := make([]StoredEnvelope, 0, journalBatch)
	flush := func() {
		if err := flushBatch(w, batch); err != nil {
			level.Error(j.logger).Log("msg", "failed to write journal", "err", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case msg, ok := <-j.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, msg)
			if len(batch) >= journalBatch {
				flush()
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush()
			}
		}
	}
}

func flushBatch(w *bufio.Writer, messages []StoredEnvelope) error {
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return w.Flush()
}
