package v1

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTripsMessage(t *testing.T) {
	env, err := New(TypeMessage, "01J", time.Unix(10, 0), MessagePayload{Destination: DestUserSessions, Body: `{"type":"SESSION_CREATED"}`})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, got.Type)
	assert.JSONEq(t, `{"destination":"/user/queue/sessions","body":"{\"type\":\"SESSION_CREATED\"}"}`, string(got.Payload))
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":      `hello`,
		"no version":    `{"type":"message"}`,
		"wrong version": `{"v":"v2","type":"message"}`,
		"unknown type":  `{"v":"v1","type":"chat"}`,
		"no type":       `{"v":"v1"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestKnownDestination(t *testing.T) {
	for _, d := range Destinations {
		assert.True(t, KnownDestination(d))
	}
	assert.False(t, KnownDestination("/topic/other"))
}
