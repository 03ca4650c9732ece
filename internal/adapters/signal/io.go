package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

func (ctl *SignalWSController) writePump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if f.close != nil {
				msg := websocket.FormatCloseMessage(f.close.Code, f.close.Reason)
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				log.Debug().Str("module", "signal").Int("code", f.close.Code).Msg("writePump sent close")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess core.MemberSession, c *WsSignalConn) {
	peer := sess.Meta().PeerID
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(peer)).Str("sid", string(sess.ID())).Msg("readPump closing")
		cancel()
		c.Close()
		if ctl.limiter != nil {
			ctl.limiter.Forget(sess.ID())
		}
		_ = ctl.Hub.Close(sess)
	}()

	c.conn.SetReadLimit(ctl.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) && ctx.Err() == nil {
				log.Debug().Err(err).Str("module", "signal").Str("peer", string(peer)).Msg("readPump read error")
			}
			return
		}
		if ctl.limiter != nil && !ctl.limiter.Allow(sess.ID()) {
			sendJSON(c, wire.Error("rate limit exceeded"))
			continue
		}
		if err := ctl.Hub.Deliver(sess, data); err != nil {
			return
		}
	}
}

func sendJSON(c *WsSignalConn, msg wire.Outbound) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
