package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func enter(peer, round int) TraceEvent {
	return TraceEvent{EvtType: EvtTypeEnter, Peer: peer, Round: round}
}

func leave(peer, round int) TraceEvent {
	return TraceEvent{EvtType: EvtTypeLeave, Peer: peer, Round: round}
}

func TestCheckMutualExclusion(t *testing.T) {
	ok := []TraceEvent{enter(1, 1), leave(1, 1), enter(0, 1), leave(0, 1)}
	assert.True(t, CheckMutualExclusion(ok).Success)

	overlap := []TraceEvent{enter(1, 1), enter(0, 1), leave(1, 1), leave(0, 1)}
	v := CheckMutualExclusion(overlap)
	assert.False(t, v.Success)
	assert.Contains(t, v.Reason, "peer 0 entered while peer 1")

	assert.False(t, CheckMutualExclusion([]TraceEvent{leave(2, 1)}).Success)
}

func TestCheckLamportCondition(t *testing.T) {
	events := []TraceEvent{
		{EvtType: EvtTypeSend, Peer: 0, Lamport: 1, Line: "0\t0\t1\n"},
		{EvtType: EvtTypeRecv, Peer: 1, Lamport: 2, Line: "0\t0\t1\n"},
	}
	assert.True(t, CheckLamportCondition(events).Success)

	events[1].Lamport = 1
	assert.False(t, CheckLamportCondition(events).Success)

	events[1].Line = "garbage"
	assert.False(t, CheckLamportCondition(events).Success)
}

func TestCheckAdmissions(t *testing.T) {
	events := []TraceEvent{
		enter(0, 1), leave(0, 1), enter(1, 1), leave(1, 1),
		enter(1, 2), leave(1, 2), enter(0, 2), leave(0, 2),
	}
	assert.True(t, CheckAdmissions(events, 2, 2).Success)
	assert.False(t, CheckAdmissions(events, 3, 2).Success)
	assert.False(t, CheckAdmissions(events, 2, 1).Success, "round 2 is unexpected")
	assert.False(t, CheckAdmissions(append(events, enter(0, 2)), 2, 2).Success)

	assert.Equal(t, []int{1, 0}, AdmissionOrder(events, 2))
	assert.Len(t, Check(events, 2, 2), 3)
	assert.Len(t, Check(events, 0, 0), 2)
}
