package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/streaming"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const gameTopic = "GameInstance"

func playerTopic(id string) string { return "LocalPlayer_" + id }

// handleWS streams notifications of the GameInstance container and, when
// player_id is given, of that player's container.
// GET /v1/stream/ws?player_id=<id>&types=committed,reset&game_seq=<n>&player_seq=<n>
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	player := q.Get("player_id")
	if player != "" {
		if _, ok := h.router.Player(player); !ok {
			writeError(w, http.StatusNotFound, "player not registered")
			return
		}
	}

	typeFilter := map[string]struct{}{}
	if s := q.Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				typeFilter[t] = struct{}{}
			}
		}
	}
	wanted := func(ev streaming.Event) bool {
		if len(typeFilter) == 0 {
			return true
		}
		_, ok := typeFilter[ev.Type]
		return ok
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	gameCh := h.hub.Subscribe(gameTopic, 256)
	defer h.hub.Unsubscribe(gameTopic, gameCh)
	var playerCh chan streaming.Event
	if player != "" {
		playerCh = h.hub.Subscribe(playerTopic(player), 256)
		defer h.hub.Unsubscribe(playerTopic(player), playerCh)
	}

	// replay backlog
	replay := func(topic, param string) bool {
		since, err := strconv.ParseUint(q.Get(param), 10, 64)
		if err != nil {
			return true
		}
		for _, ev := range h.hub.ReplaySince(topic, since) {
			if !wanted(ev) {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return false
			}
		}
		return true
	}
	if !replay(gameTopic, "game_seq") {
		return
	}
	if player != "" && !replay(playerTopic(player), "player_seq") {
		return
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("Settings stream connected", zap.String("player_id", player))
	for {
		var ev streaming.Event
		var ok bool
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok = <-gameCh:
		case ev, ok = <-playerCh:
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
			continue
		}
		if !ok {
			return
		}
		if !wanted(ev) {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
