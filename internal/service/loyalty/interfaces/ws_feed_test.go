package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltyhub/internal/service/loyalty/domain"
)

func dialFeed(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/feed" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFeedHubBroadcastsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewFeedHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(httptestHandler(hub))
	defer srv.Close()

	all := dialFeed(t, srv, "")
	onlyC2 := dialFeed(t, srv, "?customerId=c-2")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(ctx,
		domain.NewEvent(domain.EventTierChanged, "c-1", time.Now(), map[string]any{"to": "GOLD"}),
		domain.NewEvent(domain.EventSegmentChanged, "c-2", time.Now(), map[string]any{"to": "VIP"}),
	))

	var first, second domain.LoyaltyEvent
	all.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, all.ReadJSON(&first))
	require.NoError(t, all.ReadJSON(&second))
	assert.Equal(t, domain.EventTierChanged, first.Type)
	assert.Equal(t, domain.EventSegmentChanged, second.Type)

	var filtered domain.LoyaltyEvent
	onlyC2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := onlyC2.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &filtered))
	assert.Equal(t, "c-2", filtered.CustomerID)
}

func TestFeedHubDropsClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewFeedHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(httptestHandler(hub))
	defer srv.Close()
	dialFeed(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, hub.ClientCount())
}

func httptestHandler(hub *FeedHub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/feed", hub.ServeWS)
	return mux
}
