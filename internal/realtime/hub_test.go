package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, userID string, streams []string, allowed map[string]struct{}) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(userID, streams, allowed, w, r)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitForSubscribers blocks until the stream has the expected number of
// subscribed connections.
func waitForSubscribers(t *testing.T, hub *Hub, stream string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.StreamSubscribers(stream) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastToUser(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "admin", []string{StreamPermissions}, nil)
	waitForSubscribers(t, hub, StreamPermissions, 1)

	hub.BroadcastToUser(StreamPermissions, "admin", Message{
		Event: "permission.apply",
		Data:  map[string]any{"apply_id": float64(7)},
	})

	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, StreamPermissions, msg.Stream)
	require.Equal(t, "permission.apply", msg.Event)

	// Messages for other users never reach this connection.
	hub.BroadcastToUser(StreamPermissions, "someone-else", Message{Event: "ignored"})
	hub.BroadcastStream(StreamReleases, Message{Event: "release.live"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg2 Message
	require.Error(t, conn.ReadJSON(&msg2))
}

func TestHubStreamSubscriptionControl(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "admin", []string{StreamPermissions}, nil)
	waitForSubscribers(t, hub, StreamPermissions, 1)

	require.NoError(t, conn.WriteJSON(controlMessage{
		Action:  "subscribe",
		Streams: []string{StreamReleases},
	}))

	// The subscribe control frame is handled asynchronously by the read
	// loop; broadcast only once it has registered.
	waitForSubscribers(t, hub, StreamReleases, 1)
	hub.BroadcastStream(StreamReleases, Message{Event: "release.live"})

	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, StreamReleases, msg.Stream)
	require.Equal(t, "release.live", msg.Event)

	// Unsubscribing removes the stream again.
	require.NoError(t, conn.WriteJSON(controlMessage{
		Action:  "unsubscribe",
		Streams: []string{StreamReleases},
	}))
	waitForSubscribers(t, hub, StreamReleases, 0)
}

func TestHubRespectsAllowedStreams(t *testing.T) {
	hub := NewHub()
	allowed := map[string]struct{}{StreamPermissions: {}}
	conn := dialHub(t, hub, "viewer", []string{StreamPermissions, StreamReleases}, allowed)
	waitForSubscribers(t, hub, StreamPermissions, 1)

	// The disallowed stream never registered, so only the permitted one
	// delivers.
	require.Equal(t, 0, hub.StreamSubscribers(StreamReleases))
	hub.BroadcastStream(StreamReleases, Message{Event: "release.live"})
	hub.BroadcastToUser(StreamPermissions, "viewer", Message{Event: "permission.apply"})

	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, StreamPermissions, msg.Stream)
}

func TestHostWithoutPort(t *testing.T) {
	require.Equal(t, "example.com", hostWithoutPort("example.com:8080"))
	require.Equal(t, "example.com", hostWithoutPort("https://example.com:443"))
	require.Equal(t, "example.com", hostWithoutPort("example.com"))
	require.Equal(t, "", hostWithoutPort("  "))
}

func TestIsLoopback(t *testing.T) {
	require.True(t, isLoopback("127.0.0.1"))
	require.True(t, isLoopback("localhost"))
	require.True(t, isLoopback("::1"))
	require.False(t, isLoopback("example.com"))
}

func TestUniqueStreams(t *testing.T) {
	require.Equal(t, []string{"permissions", "releases"},
		uniqueStreams([]string{" Permissions ", "releases", "permissions", ""}))
}
