package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/compose-network/oracle/x/events"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// handleEventsStream upgrades to a websocket and pushes journal records with
// Seq > after as they are committed. Records are sent as JSON text frames.
func (h *Handler) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	after, limit, ok := eventsQuery(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: handles pongs and notices when the client goes away.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(streamPingPeriod)
	defer pings.Stop()

	h.log.Debug().Uint64("after", after).Str("remote_addr", r.RemoteAddr).Msg("Event stream opened")

	records := make(chan []events.Record, 1)
	go func() {
		defer close(records)
		cursor := after
		for {
			recs, err := h.journal.Wait(ctx, cursor, limit)
			if err != nil {
				return
			}
			select {
			case records <- recs:
			case <-ctx.Done():
				return
			}
			cursor = recs[len(recs)-1].Seq
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.closeStream(conn)
			return
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case batch, ok := <-records:
			if !ok {
				h.closeStream(conn)
				return
			}
			for _, rec := range batch {
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteJSON(rec); err != nil {
					if !errors.Is(err, websocket.ErrCloseSent) {
						h.log.Debug().Err(err).Msg("Event stream write failed")
					}
					return
				}
			}
		}
	}
}

func (h *Handler) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
