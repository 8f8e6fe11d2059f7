package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayed(t *testing.T) {
	assert.True(t, SignalTypeChannelOpen.Relayed())
	assert.True(t, SignalTypeTrackEnded.Relayed())
	assert.False(t, SignalTypeRegistered.Relayed())
	assert.False(t, SignalTypeError.Relayed())
	assert.False(t, SignalType("offer").Relayed())
}

func TestSignalMessageKeepsPayloadVerbatim(t *testing.T) {
	raw := `{"type":"call-offer","to":"b","token":"t1","payload":{"stream":{"id":"s","audio":true}}}`

	var msg SignalMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	var offer CallOfferPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &offer))
	require.NotNil(t, offer.Stream)
	assert.Equal(t, "s", offer.Stream.ID)
	assert.True(t, offer.Stream.Audio)

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}
