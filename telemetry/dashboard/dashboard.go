// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dashboard streams translator telemetry over websocket.
package dashboard

import (
	"net/http"
	"time"

	"gate.computer/xlate/internal/log"
	"gate.computer/xlate/telemetry"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Frame is sent to clients once per interval.
type Frame struct {
	Time   time.Time        `json:"time"`
	Totals telemetry.Totals `json:"totals"`
	View   telemetry.View   `json:"view"`
}

// Handler upgrades requests to websocket connections.  Each connection gets
// its own rolling window.
type Handler struct {
	Telemetry *telemetry.Telemetry
	Interval  time.Duration // Defaults to one second.
	Window    time.Duration // Defaults to ten intervals.

	upgrader websocket.Upgrader
}

func New(tel *telemetry.Telemetry) *Handler {
	return &Handler{
		Telemetry: tel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) interval() time.Duration {
	if h.Interval > 0 {
		return h.Interval
	}
	return time.Second
}

func (h *Handler) window() time.Duration {
	if h.Window > 0 {
		return h.Window
	}
	return 10 * h.interval()
}

func (h *Handler) frame(r *telemetry.Roller, now time.Time) Frame {
	totals := h.Telemetry.Snapshot()
	r.Add(now, totals)

	return Frame{
		Time:   now,
		Totals: totals,
		View:   r.View(now, h.window()),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Debug(log.Server, "websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	log.Debug(log.Server, "client connected", "remote", conn.RemoteAddr())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	roller := telemetry.NewRoller(telemetry.DefaultRollerSize)
	ticker := time.NewTicker(h.interval())
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(h.frame(roller, time.Now())); err != nil {
			log.Debug(log.Server, "client dropped", "remote", conn.RemoteAddr(), "error", err)
			return
		}

		select {
		case <-ticker.C:
		case <-closed:
			log.Debug(log.Server, "client disconnected", "remote", conn.RemoteAddr())
			return
		case <-req.Context().Done():
			return
		}
	}
}
