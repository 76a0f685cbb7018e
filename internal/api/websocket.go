// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/eventbus"
	"github.com/nexusruntime/nexus/internal/metrics"
)

const (
	wsWriteWait        = 10 * time.Second
	wsPongWait         = 60 * time.Second
	wsPingPeriod       = (wsPongWait * 9) / 10
	wsHandshakeTimeout = 10 * time.Second
	wsMaxInbound       = 512

	// wsSendBuffer bounds the per-connection backlog. A client that
	// cannot keep up loses events instead of stalling the bus workers.
	wsSendBuffer = 64
)

// handleEventStream upgrades the connection and relays every bus event
// matching the requested patterns. Repeat ?pattern= to subscribe to
// more than one; the default is everything.
//
// @Summary Live event stream
// @Description Websocket relay of runtime events. Browsers pass the token as ?access_token= since upgrade requests cannot carry headers.
// @Tags Events
// @Security BearerAuth
// @Param pattern query string false "Subscription pattern, repeatable (default *)"
// @Success 101 {string} string "Switching Protocols"
// @Router /events/ws [get]
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		respondErrorMsg(w, http.StatusServiceUnavailable, errs.KindDependency, "event bus is not available")
		return
	}

	patterns := r.URL.Query()["pattern"]
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	// Subscribe before upgrading so pattern mistakes still get a plain
	// 400 instead of a websocket close frame.
	subscriberID := "ws-" + uuid.NewString()
	send := make(chan eventbus.Event, wsSendBuffer)
	for _, pattern := range patterns {
		_, err := s.deps.Bus.Subscribe(pattern, func(e eventbus.Event) {
			select {
			case send <- e:
			default:
				metrics.RecordEventDropped("websocket_backpressure")
			}
		}, eventbus.WithSubscriberID(subscriberID))
		if err != nil {
			s.deps.Bus.Unsubscribe(subscriberID)
			respondError(w, err)
			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: wsHandshakeTimeout,
		CheckOrigin:      s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		s.deps.Bus.Unsubscribe(subscriberID)
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	s.logger.Debug().
		Str("subscriber_id", subscriberID).
		Strs("patterns", patterns).
		Msg("Event stream connected")
	s.relayEvents(conn, send)

	s.deps.Bus.Unsubscribe(subscriberID)
	_ = conn.Close()
	s.logger.Debug().Str("subscriber_id", subscriberID).Msg("Event stream closed")
}

// relayEvents pumps bus events to the peer until either side goes away.
// The read loop only services control frames; clients have nothing to
// say on this endpoint.
func (s *Server) relayEvents(conn *websocket.Conn, send <-chan eventbus.Event) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(wsMaxInbound)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// checkOrigin admits non-browser clients (no Origin header) and browser
// origins the CORS configuration allows.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORS.Origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
