package watchbus

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-lockstep/v1/metrics"
)

// subscribe watches the "key" query parameter, or every key under "prefix".
// It returns the name to pass to Unwatch.
func subscribe(ctx context.Context, bus WatchBus, r *http.Request) (string, chan []byte, int, error) {
	q := r.URL.Query()
	if key := q.Get("key"); key != "" {
		ch, err := bus.Watch(ctx, key)
		if err != nil {
			return "", nil, http.StatusInternalServerError, err
		}
		return key, ch, 0, nil
	}
	if prefix := q.Get("prefix"); prefix != "" {
		ch, err := bus.SubscribePrefix(ctx, prefix)
		if err != nil {
			return "", nil, http.StatusInternalServerError, err
		}
		return prefix, ch, 0, nil
	}
	return "", nil, http.StatusBadRequest, fmt.Errorf("missing key")
}

func hasTarget(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("key") != "" || q.Get("prefix") != ""
}

// SSEHandler streams WatchBus records over Server-Sent Events.
// The watched group is taken from the "key" or "prefix" query parameter.
func SSEHandler(bus WatchBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		name, ch, status, err := subscribe(ctx, bus, r)
		if err != nil {
			cancel()
			http.Error(w, err.Error(), status)
			return
		}
		metrics.WatcherGauge.Inc()
		defer func() {
			cancel()
			_ = bus.Unwatch(context.Background(), name, ch)
			metrics.WatcherGauge.Dec()
		}()
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "event: record\ndata: %s\n\n", msg); err != nil {
					return
				}
				flusher.Flush()
			case <-ctx.Done():
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{}

// WebSocketHandler streams WatchBus records over WebSocket, one text message
// per record. The watched group is taken from "key" or "prefix".
func WebSocketHandler(bus WatchBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !hasTarget(r) {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		name, ch, _, err := subscribe(ctx, bus, r)
		if err != nil {
			cancel()
			return
		}
		metrics.WatcherGauge.Inc()
		defer func() {
			cancel()
			_ = bus.Unwatch(context.Background(), name, ch)
			metrics.WatcherGauge.Dec()
		}()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}
