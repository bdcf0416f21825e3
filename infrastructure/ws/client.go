package ws

import (
	"encoding/json"
	"log/slog"
	"meet-signal/domain"
	"meet-signal/sink"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client wraps one websocket connection.
// ReadPump and WritePump are its only reader and writer.
type Client struct {
	ID             domain.ConnectionID
	conn           *websocket.Conn
	sink           *sink.ConnectionSink
	log            *slog.Logger
	maxMessageSize int64
}

func NewClient(conn *websocket.Conn, id domain.ConnectionID, sink *sink.ConnectionSink, log *slog.Logger, maxMessageSize int64) *Client {
	return &Client{
		ID:             id,
		conn:           conn,
		sink:           sink,
		log:            log.With("connection", id),
		maxMessageSize: maxMessageSize,
	}
}

// ReadPump hands every inbound frame to handle, one at a time, until the connection closes.
// A frame that is not JSON is skipped.
func (c *Client) ReadPump(handle func(Message)) {
	defer c.conn.Close()

	c.conn.SetReadLimit(c.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Unexpected close", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("Malformed frame skipped", "error", err)
			continue
		}
		handle(msg)
	}
}

// WritePump drains the connection sink into the websocket and keeps the connection alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.sink.Events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(outboundMessage{Event: evt.EventName(), Data: evt}); err != nil {
				c.log.Debug("Write failed", "error", err)
				return
			}

		case <-c.sink.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
