package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSerializesLatencyAsMillis(t *testing.T) {
	event := Event{
		RequestID: "req-1",
		Latency:   1500 * time.Millisecond,
	}

	data, err := json.Marshal(event.forWire())
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.EqualValues(t, 1500, wire["latency_ms"])
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		0:   "error",
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		429: "4xx",
		502: "5xx",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusClass(code), "status %d", code)
	}
}
