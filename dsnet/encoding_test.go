package dsnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageWireFormat(t *testing.T) {
	tests := []struct {
		msg  Message
		line string
	}{
		{Message{Kind: Request, From: 1, Timestamp: 6}, "0\t1\t6\n"},
		{Message{Kind: Reply, From: 0, Timestamp: 12}, "1\t0\t12\n"},
		{Message{Kind: Exit, From: 9, Timestamp: 0}, "2\t9\t0\n"},
	}

	for _, tt := range tests {
		text, err := tt.msg.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tt.line, string(text))

		got, err := ParseMessage(tt.line)
		require.NoError(t, err)
		assert.Equal(t, tt.msg, got)
	}
}

func TestParseMessageAnyWhitespace(t *testing.T) {
	got, err := ParseMessage("  2 3\t\t41")
	require.NoError(t, err)
	assert.Equal(t, Message{Kind: Exit, From: 3, Timestamp: 41}, got)
}

func TestParseMessageMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"0\t1",
		"0\t1\t2\t3",
		"3\t1\t2",
		"x\t1\t2",
		"0\t-1\t2",
		"0\t1\t-2",
	} {
		_, err := ParseMessage(line)
		assert.ErrorIs(t, err, ErrMalformedMessage, "%q", line)
	}

	_, err := Message{Kind: Kind(7)}.MarshalText()
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestKindLabels(t *testing.T) {
	assert.Equal(t, "request", Request.String())
	assert.Equal(t, "reply", Reply.String())
	assert.Equal(t, "exit", Exit.String())
	assert.Equal(t, "undefined", Kind(3).String())
	assert.False(t, Kind(-1).Valid())
}

func TestMessageString(t *testing.T) {
	assert.Equal(t, "request(i = 1, T[i] = 6)", Message{Kind: Request, From: 1, Timestamp: 6}.String())
	assert.Equal(t, "exit(i = 0, T[i] = 2)", Message{Kind: Exit, From: 0, Timestamp: 2}.String())
}
