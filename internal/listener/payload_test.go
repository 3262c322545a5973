package listener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayFromTopic(t *testing.T) {
	gw, err := GatewayFromTopic("bluetooth/GW-01/data")
	require.NoError(t, err)
	assert.Equal(t, "GW-01", gw)

	for _, topic := range []string{"bluetooth", "bluetooth/GW-01", "bluetooth//data"} {
		_, err := GatewayFromTopic(topic)
		assert.ErrorIs(t, err, ErrMalformedPayload, topic)
	}
}

func TestParsePayload_EpochTimestamp(t *testing.T) {
	r, err := ParsePayload("bluetooth/GW1/data",
		[]byte(`{"beacon_id":"T1","rssi":-71,"timestamp":1700000000,"address":"10.0.0.2"}`), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "GW1", r.GatewayID)
	assert.Equal(t, "T1", r.TagID)
	assert.Equal(t, -71, r.RSSI)
	assert.Equal(t, int64(1700000000), r.Timestamp)
	assert.Equal(t, 1, r.LivenessHint)
	assert.Equal(t, "10.0.0.2", r.Address)
}

func TestParsePayload_StringTimestamp(t *testing.T) {
	r, err := ParsePayload("bluetooth/GW1/data",
		[]byte(`{"beacon_id":"T1","rssi":-71,"timestamp":"2024-01-02T03:04:05"}`), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Unix(), r.Timestamp)

	r, err = ParsePayload("bluetooth/GW1/data",
		[]byte(`{"tag_id":"T2","rssi":-60.6,"timestamp":"2024-01-02T03:04:05+01:00"}`), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "T2", r.TagID)
	assert.Equal(t, -61, r.RSSI)
	assert.Equal(t, time.Date(2024, 1, 2, 2, 4, 5, 0, time.UTC).Unix(), r.Timestamp)
}

func TestParsePayload_RoundsFractionalRSSI(t *testing.T) {
	cases := map[string]int{
		"-70.9": -71,
		"-70.5": -71,
		"-70.4": -70,
		"-70":   -70,
	}
	for raw, want := range cases {
		r, err := ParsePayload("bluetooth/GW1/data",
			[]byte(`{"beacon_id":"T1","rssi":`+raw+`,"timestamp":1700000000}`), time.UTC)
		require.NoError(t, err, raw)
		assert.Equal(t, want, r.RSSI, raw)
	}
}

func TestParsePayload_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing beacon_id": `{"rssi":-70,"timestamp":1}`,
		"missing rssi":      `{"beacon_id":"T1","timestamp":1}`,
		"missing timestamp": `{"beacon_id":"T1","rssi":-70}`,
		"null timestamp":    `{"beacon_id":"T1","rssi":-70,"timestamp":null}`,
		"bad timestamp":     `{"beacon_id":"T1","rssi":-70,"timestamp":"yesterday"}`,
		"bool timestamp":    `{"beacon_id":"T1","rssi":-70,"timestamp":true}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload("bluetooth/GW1/data", []byte(payload), time.UTC)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}
