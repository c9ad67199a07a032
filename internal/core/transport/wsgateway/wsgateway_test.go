package wsgateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tickforge/ecsengine/internal/core/observability/log"
	"github.com/tickforge/ecsengine/internal/core/transport/inproc"
	"github.com/tickforge/ecsengine/internal/core/wire"
	"github.com/tickforge/ecsengine/internal/core/wire/codec"
)

func TestServeHTTPRelaysQueryRequestAndMatchesResponse(t *testing.T) {
	bus := inproc.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := New(bus, log.New(log.LevelInfo))
	require.NoError(t, g.Start(ctx))

	// Stand in for the coordinator: answer any QueryRequest with a
	// QueryResponse carrying the same RequestID back.
	reqSub, err := bus.Subscribe(ctx, wire.SubjectQueryRequest)
	require.NoError(t, err)
	go func() {
		for env := range reqSub.Messages() {
			var req wire.QueryRequest
			if err := codec.Decode(env.Payload, &req); err != nil {
				continue
			}
			resp := wire.QueryResponse{RequestID: req.RequestID}
			payload, err := codec.Encode(resp)
			if err != nil {
				continue
			}
			respEnv := wire.NewEnvelope(wire.SubjectQueryResponse, payload)
			respEnv.SetHeader(wire.HeaderInstanceID, env.Header(wire.HeaderInstanceID))
			respEnv.SetHeader(wire.HeaderMsgType, wire.MsgTypeQueryResponse)
			_ = bus.Publish(ctx, respEnv)
		}
	}()

	server := httptest.NewServer(g)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientFrame{
		Subject: wire.SubjectQueryRequest,
		Payload: []byte(`{}`),
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp clientResponse
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, wire.SubjectQueryResponse, resp.Subject)
	require.Empty(t, resp.Error)
}

func TestServeHTTPRejectsUnsupportedSubject(t *testing.T) {
	bus := inproc.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := New(bus, log.New(log.LevelInfo))
	require.NoError(t, g.Start(ctx))

	server := httptest.NewServer(g)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientFrame{Subject: "bogus.subject", Payload: []byte(`{}`)}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp clientResponse
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "unsupported subject", resp.Error)
}

func TestDispatchTimesOutWithNoResponder(t *testing.T) {
	bus := inproc.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := New(bus, log.New(log.LevelInfo))
	g.requestTimeout = 100 * time.Millisecond
	require.NoError(t, g.Start(ctx))

	resp := g.dispatch(ctx, clientFrame{Subject: wire.SubjectQueryRequest, Payload: []byte(`{}`)})
	require.Equal(t, "request timed out", resp.Error)
}
