package consultation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/consult-api/internal/config"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/service/consultation"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
)

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// client is one websocket connection. readPump runs on the handler
// goroutine; writePump owns every write to the socket.
type client struct {
	caller  model.Caller
	conn    *websocket.Conn
	hub     *consultation.Hub
	cfg     config.ChatConfig
	limiter *rate.Limiter
	logger  zerolog.Logger

	send      chan consultation.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(caller model.Caller, conn *websocket.Conn, hub *consultation.Hub, cfg config.ChatConfig, logger zerolog.Logger) *client {
	return &client{
		caller:  caller,
		conn:    conn,
		hub:     hub,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessageRate), cfg.MessageBurst),
		logger:  logger.With().Str("user_id", caller.ID.String()).Logger(),
		send:    make(chan consultation.Event, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *client) Caller() model.Caller { return c.caller }

// Deliver never blocks. A client whose buffer is full is too slow to keep
// up and gets disconnected.
func (c *client) Deliver(ev consultation.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		c.logger.Warn().Str("event", ev.Name).Msg("send buffer full, closing connection")
		c.close()
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) readPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
			c.hub.Fail(c, "", apperrors.BadRequest("frames must be {\"event\": string, \"data\": object}", err))
			continue
		}

		if in.Event == consultation.EventSendMessage && !c.limiter.Allow() {
			c.hub.Fail(c, in.Event, apperrors.TooManyRequests("sending too fast, slow down"))
			continue
		}

		c.hub.Handle(ctx, c, in.Event, in.Data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
