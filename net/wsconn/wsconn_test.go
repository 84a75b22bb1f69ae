package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/athanorlabs/xmr-btc-swap/net/message"
)

// startEchoServer serves a single websocket connection that decodes each
// incoming frame and writes back the reply produced by respond.
func startEchoServer(t *testing.T, respond func(message.Message) message.Message) string {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close() //nolint:errcheck

		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			m, err := message.Decode(b)
			require.NoError(t, err)

			reply := respond(m)
			out, err := reply.Encode()
			require.NoError(t, err)
			if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendQuoteRoundTrip(t *testing.T) {
	endpoint := startEchoServer(t, func(message.Message) message.Message {
		return &message.QuoteResponse{PriceSatsPerXMR: 123456}
	})

	conn, err := Dial(context.Background(), endpoint, time.Minute)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	resp, err := conn.SendQuote(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(123456), resp.PriceSatsPerXMR)
}

func TestRunSetupRoundTrip(t *testing.T) {
	endpoint := startEchoServer(t, func(m message.Message) message.Message {
		m0 := m.(*message.SetupM0) //nolint:errcheck
		return &message.SetupM1{SwapID: m0.SwapID, A: []byte{1, 2, 3}}
	})

	conn, err := Dial(context.Background(), endpoint, time.Minute)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	reply, err := conn.RunSetup(context.Background(), &message.SetupM0{B: []byte{9}})
	require.NoError(t, err)
	m1, ok := reply.(*message.SetupM1)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, m1.A)
}

func TestDialFailsWithinBound(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/nope", 2*time.Second)
	require.Error(t, err)
}
