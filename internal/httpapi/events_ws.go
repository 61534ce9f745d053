package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// handleEventsWS streams bus events to the client as JSON frames. A
// replay of recent history can be requested with ?replay=N. The read
// loop exists only to detect the client going away.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	replay := 0
	if v := strings.TrimSpace(r.URL.Query().Get("replay")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_replay", "replay must be a non-negative integer")
			return
		}
		replay = n
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if replay > 0 {
		for _, evt := range s.bus.Recent(replay) {
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
