package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv removes key for the rest of the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	prev, ok := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if ok {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CONFERENCE_ROUNDS", "2")
	t.Setenv("CONFERENCE_TRANSPORT", "grpc")
	t.Setenv("CONFERENCE_PEERS", "")
	t.Setenv("CONFERENCE_HOLD", "")
	t.Setenv("CONFERENCE_JITTER", "5ms")

	// godotenv does not override variables that are already set, so clear
	// the two the file provides.
	unsetEnv(t, "CONFERENCE_PEERS")
	unsetEnv(t, "CONFERENCE_HOLD")

	conf := Default()
	require.NoError(t, conf.ApplyEnv("testdata/test.env"))

	assert.Equal(t, 7, conf.Conference.Peers)
	assert.Equal(t, 2, conf.Conference.Rounds)
	assert.Equal(t, time.Second, conf.Conference.Hold)
	assert.Equal(t, 5*time.Millisecond, conf.Conference.Jitter)
	assert.Equal(t, TransportGRPC, conf.Transport.Kind)
}

func TestApplyEnv_MissingFileIsFine(t *testing.T) {
	conf := Default()
	require.NoError(t, conf.ApplyEnv("testdata/does-not-exist.env"))
	assert.Equal(t, Default(), conf)
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("CONFERENCE_ROUNDS", "many")

	conf := Default()
	assert.ErrorIs(t, conf.ApplyEnv(""), ErrInvalidConfiguration)
}
