package wire

import (
	"fmt"

	"github.com/tickforge/ecsengine/internal/core/ecserr"
)

// Envelope is a decoded bus message: subject-addressed, header-carrying,
// with an opaque encoded payload (spec.md §6).
type Envelope struct {
	Subject string
	Headers map[string]string
	Payload []byte
}

// Header returns a header value, or "" if absent.
func (e Envelope) Header(key string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[key]
}

// RequireHeader returns a header value, or ecserr.ErrMissingHeader if it is
// absent — used for the sentinel/ack headers spec.md §7 calls out as
// required.
func (e Envelope) RequireHeader(key string) (string, error) {
	v, ok := e.Headers[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %q on subject %q", ecserr.ErrMissingHeader, key, e.Subject)
	}
	return v, nil
}

// NewEnvelope builds an envelope with a fresh header map, so callers can
// SetHeader without mutating a shared map.
func NewEnvelope(subject string, payload []byte) Envelope {
	return Envelope{Subject: subject, Headers: make(map[string]string), Payload: payload}
}

// SetHeader sets a header, initializing the map if necessary.
func (e *Envelope) SetHeader(key, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
}
