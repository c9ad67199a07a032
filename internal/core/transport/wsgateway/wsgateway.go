// Package wsgateway is a thin edge gateway adapted from the teacher's
// protocol/websocket package: the same upgrader/connection-registry shape,
// narrowed from a general-purpose pub/sub protocol to a request/response
// bridge for the two subjects external tools are allowed to reach —
// wire.SubjectQueryRequest and wire.SubjectSchemaRequest (SPEC_FULL.md
// §8). It is not a transport.Bus implementation: it is a client of one,
// translating browser-friendly JSON-over-websocket frames into the
// engine's CBOR envelopes and back.
package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/transport"
	"github.com/tickforge/ecsengine/internal/core/wire"
	"github.com/tickforge/ecsengine/internal/core/wire/codec"
)

// Gateway upgrades HTTP connections to websockets and relays query and
// schema requests onto bus, matching responses back to the request that
// triggered them by correlation ID.
type Gateway struct {
	bus      transport.Bus
	logger   log.Log
	upgrader websocket.Upgrader

	pendingMu sync.Mutex
	pending   map[string]chan wire.Envelope

	requestTimeout time.Duration
}

// clientFrame is the JSON shape browsers send: a subject to request on and
// an opaque CBOR-free payload, which the gateway re-encodes as CBOR before
// publishing to bus.
type clientFrame struct {
	Subject string          `json:"subject"`
	Payload json.RawMessage `json:"payload"`
}

type clientResponse struct {
	Subject string          `json:"subject"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// New builds a gateway that relays requests over bus. It subscribes to
// nothing itself; call Start before serving so replies are received.
func New(bus transport.Bus, logger log.Log) *Gateway {
	g := &Gateway{
		bus:    bus,
		logger: logger.With(log.String("component", "wsgateway")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pending:        make(map[string]chan wire.Envelope),
		requestTimeout: 5 * time.Second,
	}
	return g
}

// Start subscribes to the response subjects the gateway dispatches on.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.watch(ctx, wire.SubjectQueryResponse); err != nil {
		return err
	}
	if err := g.watch(ctx, wire.SubjectSchemaResponse); err != nil {
		return err
	}
	return nil
}

func (g *Gateway) watch(ctx context.Context, subject string) error {
	sub, err := g.bus.Subscribe(ctx, subject)
	if err != nil {
		return err
	}
	go func() {
		for env := range sub.Messages() {
			corr := env.Header(wire.HeaderInstanceID)
			g.pendingMu.Lock()
			ch, ok := g.pending[corr]
			if ok {
				delete(g.pending, corr)
			}
			g.pendingMu.Unlock()
			if ok {
				ch <- env
			}
		}
	}()
	return nil
}

// ServeHTTP upgrades the connection and serves request/response frames for
// its lifetime.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		resp := g.dispatch(r.Context(), frame)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, frame clientFrame) clientResponse {
	replySubject := frame.Subject
	switch frame.Subject {
	case wire.SubjectQueryRequest:
		replySubject = wire.SubjectQueryResponse
	case wire.SubjectSchemaRequest:
		replySubject = wire.SubjectSchemaResponse
	default:
		return clientResponse{Subject: frame.Subject, Error: "unsupported subject"}
	}

	corr := uuid.NewString()

	var msgType string
	var payload any
	switch frame.Subject {
	case wire.SubjectQueryRequest:
		msgType = wire.MsgTypeQueryRequest
		var req wire.QueryRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return clientResponse{Subject: frame.Subject, Error: "bad query request: " + err.Error()}
		}
		req.RequestID = corr
		payload = req
	case wire.SubjectSchemaRequest:
		msgType = wire.MsgTypeSchemaRequest
		var req wire.SchemaRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return clientResponse{Subject: frame.Subject, Error: "bad schema request: " + err.Error()}
		}
		req.RequestID = corr
		payload = req
	}

	ch := make(chan wire.Envelope, 1)
	g.pendingMu.Lock()
	g.pending[corr] = ch
	g.pendingMu.Unlock()

	cborPayload, err := codec.Encode(payload)
	if err != nil {
		g.pendingMu.Lock()
		delete(g.pending, corr)
		g.pendingMu.Unlock()
		return clientResponse{Subject: frame.Subject, Error: err.Error()}
	}
	env := wire.NewEnvelope(frame.Subject, cborPayload)
	env.SetHeader(wire.HeaderInstanceID, corr)
	env.SetHeader(wire.HeaderMsgType, msgType)
	if err := g.bus.Publish(ctx, env); err != nil {
		g.pendingMu.Lock()
		delete(g.pending, corr)
		g.pendingMu.Unlock()
		return clientResponse{Subject: frame.Subject, Error: err.Error()}
	}

	select {
	case reply := <-ch:
		return clientResponse{Subject: replySubject, Payload: rawPayload(reply.Payload)}
	case <-time.After(g.requestTimeout):
		g.pendingMu.Lock()
		delete(g.pending, corr)
		g.pendingMu.Unlock()
		return clientResponse{Subject: frame.Subject, Error: "request timed out"}
	}
}

// rawPayload re-decodes the CBOR payload into a generic value and
// re-encodes it as JSON, so browsers never need a CBOR decoder.
func rawPayload(cborPayload []byte) json.RawMessage {
	var v any
	if err := codec.Decode(cborPayload, &v); err != nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
