package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Comcast/tortoise/core"

	"github.com/gorilla/websocket"
)

// Feed sends every Observation to every connected websocket client.
//
// A client that can't keep up misses observations.  Nothing is
// queued for clients that aren't connected.
type Feed struct {
	Logger *slog.Logger

	// Buffer is the per-client queue length.
	Buffer int

	upgrader websocket.Upgrader
	conns    sync.Map
}

// NewFeed makes a Feed.
func NewFeed() *Feed {
	return &Feed{
		Logger: slog.Default(),
		Buffer: 32,
	}
}

// Observe implements core.Observer.  It doesn't block.
func (f *Feed) Observe(ctx context.Context, o core.Observation) {
	js, err := json.Marshal(&o)
	if err != nil {
		f.Logger.Warn("feed marshal", "error", err)
		return
	}
	f.conns.Range(func(k, v interface{}) bool {
		q := v.(chan []byte)
		select {
		case q <- js:
		default:
			f.Logger.Warn("feed blocked", "client", k)
		}
		return true
	})
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	n := 0
	f.conns.Range(func(k, v interface{}) bool {
		n++
		return true
	})
	return n
}

// ServeHTTP upgrades the connection and writes observations until
// the client goes away.  Anything the client sends is ignored.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.Logger.Warn("feed upgrade", "error", err)
		return
	}
	defer c.Close()

	q := make(chan []byte, f.Buffer)
	f.conns.Store(c, q)
	defer f.conns.Delete(c)
	f.Logger.Info("feed client", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case js := <-q:
			if err := c.WriteMessage(websocket.TextMessage, js); err != nil {
				f.Logger.Warn("feed write", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
