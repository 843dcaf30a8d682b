package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/go-locshare/internal/server"
)

// retryMillis is the reconnect interval suggested to EventSource clients.
const retryMillis = 1500

// events opens the long-lived push stream for a room. The subscription is
// established before the stream opens, so a bad room or token is rejected
// with a normal JSON error. Server-sent events is the default transport; a
// websocket upgrade request gets the same snapshot feed over a websocket.
func (s *LocShareApp) events(w http.ResponseWriter, r *http.Request) {
	roomId := r.URL.Query().Get("roomId")
	if roomId == "" {
		errResp := NewBadRequestError("roomId query is required.")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sub, err := s.rs.Subscribe(roomId, r.URL.Query().Get("token"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, server.ErrForbidden) {
			errResp = NewForbiddenError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer s.rs.Unsubscribe(sub)

	if isWebSocket(r) {
		s.serveWebSocket(w, r, sub)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		errResp := NewInternalServerError(errors.New("streaming unsupported"))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	for {
		select {
		case data := <-sub.Events:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
