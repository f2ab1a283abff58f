package resilience

import (
	"bytes"
	"net/http"
)

// ResponseBuffer is an http.ResponseWriter that captures the full response
// in memory so middleware can inspect, replay, or discard it before
// anything reaches the client.
type ResponseBuffer struct {
	status int
	header http.Header
	body   bytes.Buffer
}

func NewResponseBuffer() *ResponseBuffer {
	return &ResponseBuffer{status: http.StatusOK, header: make(http.Header)}
}

func (b *ResponseBuffer) Header() http.Header { return b.header }

func (b *ResponseBuffer) WriteHeader(code int) { b.status = code }

func (b *ResponseBuffer) Write(p []byte) (int, error) { return b.body.Write(p) }

// Status returns the captured status code (200 when never set).
func (b *ResponseBuffer) Status() int { return b.status }

// Body returns the captured body bytes.
func (b *ResponseBuffer) Body() []byte { return b.body.Bytes() }

// Reset clears the buffer for another attempt.
func (b *ResponseBuffer) Reset() {
	b.status = http.StatusOK
	b.header = make(http.Header)
	b.body.Reset()
}

// Flush copies the captured response onto the real writer.
func (b *ResponseBuffer) Flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, vv := range b.header {
		dst[k] = vv
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
