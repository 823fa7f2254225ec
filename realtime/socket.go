package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
)

// clientFrame is what clients send over the socket.
type clientFrame struct {
	Type   string          `json:"type"` // join, leave or message
	Thread string          `json:"thread"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ThreadAuthorizer decides whether a user takes part in a thread.
type ThreadAuthorizer interface {
	ThreadMember(ctx context.Context, clm claims.Claims, threadID string) (bool, error)
}

// HandleSocket upgrades an authenticated request to a websocket bound to the
// caller's rooms. Thread rooms are joined and written to only by members. An
// empty origin accepts any origin.
func HandleSocket(svc *Service, threads ThreadAuthorizer, origin string, log logrus.FieldLogger) web.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return origin == "" || origin == "*" || r.Header.Get("Origin") == origin
		},
	}

	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader already replied to the client
			log.WithError(err).WithField("user_id", clm.UserID).Warn("websocket upgrade failed")
			return nil
		}

		c := svc.Hub().Connect(clm)
		go writePump(ws, c)
		p := pump{svc: svc, threads: threads, clm: clm, log: log}
		p.read(ctx, ws, c)
		return nil
	}
}

type pump struct {
	svc     *Service
	threads ThreadAuthorizer
	clm     claims.Claims
	log     logrus.FieldLogger
}

type threadDenied struct {
	Thread string `json:"thread"`
}

// member reports whether the caller takes part in thread and tells the
// client when it does not.
func (p pump) member(ctx context.Context, c *Conn, thread string) bool {
	ok, err := p.threads.ThreadMember(ctx, p.clm, thread)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"user_id": c.UserID,
			"thread":  thread,
		}).Error("checking thread membership")
	}
	if !ok {
		p.svc.Hub().Reply(c, EventThreadDenied, threadDenied{Thread: thread})
	}
	return ok
}

func (p pump) read(ctx context.Context, ws *websocket.Conn, c *Conn) {
	svc, log := p.svc, p.log
	defer func() {
		svc.Hub().Disconnect(c)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f clientFrame
		if err := ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("user_id", c.UserID).Debug("websocket closed")
			}
			return
		}

		room := ThreadRoom(f.Thread)
		if !IsThreadRoom(room) {
			continue
		}
		switch f.Type {
		case "join":
			if p.member(ctx, c, f.Thread) {
				_ = svc.Hub().Join(c, room)
			}
		case "leave":
			_ = svc.Hub().Leave(c, room)
		case "message":
			if !svc.Hub().InRoom(c, room) {
				svc.Hub().Reply(c, EventThreadDenied, threadDenied{Thread: f.Thread})
				continue
			}
			if !p.member(ctx, c, f.Thread) {
				_ = svc.Hub().Leave(c, room)
				continue
			}
			svc.Emit(ctx, Event{
				Name:  EventNewMessage,
				Rooms: []string{room},
				Data:  chatMessage{Thread: f.Thread, From: c.UserID, Body: f.Data},
			})
		}
	}
}

type chatMessage struct {
	Thread string          `json:"thread"`
	From   string          `json:"from"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case b, ok := <-c.Send():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
