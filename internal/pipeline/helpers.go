package pipeline

import (
	"encoding/json"
	"net/http"

	"github.com/als-ai/gateway/internal/providers"
)

// maxStreamTail bounds the buffered tail of a streamed response kept for the
// trailing usage scan.
const maxStreamTail = 64 * 1024

// mustConfig is only called after the driver has validated the provider.
func mustConfig(d *providers.Driver, provider string) *providers.Config {
	cfg, _ := d.Config(provider)
	return cfg
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
}

func (t *tailBuffer) Bytes() []byte { return t.buf }
