package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"atende/events"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastsEnvelopes(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	env := events.NewEnvelope(events.TypeTicketAssigned, map[string]string{"protocol": "AT000007"}, "")
	require.NoError(t, hub.Publish(context.Background(), env))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.Envelope
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, env.Meta.ID, got.Meta.ID)
	assert.Equal(t, events.TypeTicketAssigned, got.Meta.Type)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishWithoutClients(t *testing.T) {
	hub := NewHub()
	assert.NoError(t, hub.Publish(context.Background(), events.NewEnvelope(events.TypeOrderPaid, nil, "")))
	assert.Equal(t, 0, hub.Count())
}
