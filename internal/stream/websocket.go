package stream

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/chatpilot/internal/store"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeSession upgrades the request and streams the record of id: first its
// current state, then every change until the session settles or the client
// goes away.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	updates, cancel := h.Subscribe(id)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.log.With(zap.String("session", id))
	log.Debug("Subscriber connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("Subscriber read error", zap.Error(err))
				}
				return
			}
		}
	}()

	if !send(conn, rec) || rec.Status.Terminal() {
		closeNormal(conn)
		return
	}
	for {
		select {
		case <-closed:
			log.Debug("Subscriber disconnected")
			return
		case <-r.Context().Done():
			return
		case rec := <-updates:
			if !send(conn, rec) {
				return
			}
			if rec.Status.Terminal() {
				closeNormal(conn)
				return
			}
		}
	}
}

func send(conn *websocket.Conn, rec *models.SessionRecord) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(rec) == nil
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session settled")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
