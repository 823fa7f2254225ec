package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// members maps a thread to the users taking part in it.
type members map[string][]string

func (m members) ThreadMember(_ context.Context, clm claims.Claims, thread string) (bool, error) {
	for _, id := range m[thread] {
		if id == clm.UserID {
			return true, nil
		}
	}
	return false, nil
}

func TestSocket(t *testing.T) {
	svc := NewService(quietLog(), NewHub(quietLog()), nil, "")
	h := HandleSocket(svc, members{"t1": {"u1", "u2"}}, "", quietLog())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := claims.Set(r.Context(), claims.Claims{UserID: r.URL.Query().Get("user"), Role: claims.RoleStudent})
		if err := h(ctx, w, r.WithContext(ctx)); err != nil {
			t.Errorf("handler: %v", err)
		}
	}))
	defer srv.Close()

	dial := func(user string) *websocket.Conn {
		u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + user
		ws, _, err := websocket.DefaultDialer.Dial(u, nil)
		require.NoError(t, err)
		t.Cleanup(func() { ws.Close() })
		return ws
	}
	read := func(ws *websocket.Conn) frame {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f frame
		require.NoError(t, ws.ReadJSON(&f))
		return f
	}

	alice, bob, carol := dial("u1"), dial("u2"), dial("u3")

	require.NoError(t, alice.WriteJSON(clientFrame{Type: "join", Thread: "t1"}))
	require.NoError(t, bob.WriteJSON(clientFrame{Type: "join", Thread: "t1"}))

	// joins are processed asynchronously by the read loops
	require.Eventually(t, func() bool {
		return svc.Hub().Deliver(Message{Name: "ping", Rooms: []string{ThreadRoom("t1")}}) == 2
	}, 2*time.Second, 10*time.Millisecond)
	skipPings := func(ws *websocket.Conn) frame {
		for {
			if f := read(ws); f.Event != "ping" {
				return f
			}
		}
	}

	// carol is not part of the thread
	require.NoError(t, carol.WriteJSON(clientFrame{Type: "join", Thread: "t1"}))
	f := read(carol)
	assert.Equal(t, EventThreadDenied, f.Event)
	assert.JSONEq(t, `{"thread":"t1"}`, string(f.Data))
	assert.Equal(t, 2, svc.Hub().Deliver(Message{Name: "ping", Rooms: []string{ThreadRoom("t1")}}))

	require.NoError(t, carol.WriteJSON(clientFrame{Type: "message", Thread: "t1", Data: []byte(`"let me in"`)}))
	assert.Equal(t, EventThreadDenied, read(carol).Event)

	require.NoError(t, alice.WriteJSON(clientFrame{Type: "message", Thread: "t1", Data: []byte(`"hello"`)}))
	f = skipPings(bob)
	assert.Equal(t, EventNewMessage, f.Event)
	assert.JSONEq(t, `{"thread":"t1","from":"u1","body":"hello"}`, string(f.Data))

	svc.Emit(context.Background(), Event{Name: EventOrderUpdated, Rooms: Parties("u2")})
	assert.Equal(t, EventOrderUpdated, read(bob).Event)
}
