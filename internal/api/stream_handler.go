package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// writeWait — лимит на запись одного фрейма клиенту.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// API и клиенты живут на разных origin (CLI, дашборды);
	// авторизация — stream-токен, не cookie
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamRun — websocket-поток событий run'а.
//
// Живой run требует токен из ответа на запуск (?token=...). Для
// терминального run'а токена уже нет: клиент получает реплей истории
// и терминальное событие, после чего соединение закрывается.
//
// GET /api/v1/runs/{id}/stream?token=...
func (h *Handler) StreamRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	token := r.URL.Query().Get("token")
	sub, err := h.orchestrator.Subscribe(r.Context(), id, token)
	if HandleRunError(w, h.logger, err) {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам пишет ответ клиенту
		h.logger.Warn("websocket upgrade failed", "run_id", id, "error", err)
		return
	}
	defer conn.Close()

	// Читатель нужен только чтобы заметить disconnect и pong'и
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Терминальное событие уже ушло — закрываемся штатно
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.metrics.ClientDropped()
				h.logger.Debug("stream client write failed", "run_id", id, "error", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
