package trace

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Verdict is the outcome of one check over a recorded trace.
type Verdict struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

func pass(name string) Verdict { return Verdict{Name: name, Success: true} }

func fail(name, format string, args ...any) Verdict {
	return Verdict{Name: name, Reason: fmt.Sprintf(format, args...)}
}

// CheckMutualExclusion walks the trace in recording order and fails if a
// peer enters the table while another one has not left yet.
func CheckMutualExclusion(events []TraceEvent) Verdict {
	const name = "mutual-exclusion"
	inside := -1
	for i, evt := range events {
		switch evt.EvtType {
		case EvtTypeEnter:
			if inside >= 0 {
				return fail(name, "event %d: peer %d entered while peer %d was at the table", i, evt.Peer, inside)
			}
			inside = evt.Peer
		case EvtTypeLeave:
			if inside != evt.Peer {
				return fail(name, "event %d: peer %d left but peer %d was at the table", i, evt.Peer, inside)
			}
			inside = -1
		}
	}
	return pass(name)
}

// CheckLamportCondition fails if a receive event does not carry a Lamport
// time above the timestamp of the message it received.
func CheckLamportCondition(events []TraceEvent) Verdict {
	const name = "lamport-condition"
	for i, evt := range events {
		if evt.EvtType != EvtTypeRecv {
			continue
		}
		sent, err := lineTimestamp(evt.Line)
		if err != nil {
			return fail(name, "event %d: %v", i, err)
		}
		if evt.Lamport <= sent {
			return fail(name, "event %d: peer %d received T=%d at T=%d", i, evt.Peer, sent, evt.Lamport)
		}
	}
	return pass(name)
}

// CheckAdmissions fails unless each of the peers entered the table exactly
// once in every one of the rounds.
func CheckAdmissions(events []TraceEvent, peers, rounds int) Verdict {
	const name = "admissions"
	entered := make(map[int][]int, rounds)
	for _, evt := range events {
		if evt.EvtType == EvtTypeEnter {
			entered[evt.Round] = append(entered[evt.Round], evt.Peer)
		}
	}

	for round := 1; round <= rounds; round++ {
		got := slices.Clone(entered[round])
		slices.Sort(got)
		if len(got) != peers || len(slices.Compact(got)) != peers {
			return fail(name, "round %d: admitted %v, want each of %d peers once", round, entered[round], peers)
		}
		delete(entered, round)
	}
	for round := range entered {
		return fail(name, "unexpected round %d", round)
	}
	return pass(name)
}

// AdmissionOrder returns the order in which peers entered the table during
// round, as recorded.
func AdmissionOrder(events []TraceEvent, round int) []int {
	var order []int
	for _, evt := range events {
		if evt.EvtType == EvtTypeEnter && evt.Round == round {
			order = append(order, evt.Peer)
		}
	}
	return order
}

// Check runs every check. Peers or rounds below 1 skip the admission count.
func Check(events []TraceEvent, peers, rounds int) []Verdict {
	verdicts := []Verdict{
		CheckMutualExclusion(events),
		CheckLamportCondition(events),
	}
	if peers > 0 && rounds > 0 {
		verdicts = append(verdicts, CheckAdmissions(events, peers, rounds))
	}
	return verdicts
}

// lineTimestamp extracts the timestamp from a wire line without depending on
// the message package.
func lineTimestamp(line string) (uint64, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return 0, fmt.Errorf("malformed line %q", line)
	}
	return strconv.ParseUint(fields[2], 10, 64)
}
