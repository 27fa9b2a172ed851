package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mohsinalimat/watchparty/internal/room"
)

// Client is one websocket connection to a room.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	roomID string
	connID string
	send   chan []byte
	log    *logrus.Entry
	// admitted gates room broadcasts; direct sends reach pending clients too.
	admitted atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewClient creates a client. Nothing is read or written until the pumps are started.
func NewClient(hub *Hub, conn *websocket.Conn, roomID, connID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		roomID: roomID,
		connID: connID,
		send:   make(chan []byte, sendBufferSize),
		log:    logrus.WithFields(logrus.Fields{"component": "client", "room_id": roomID, "conn_id": connID}),
		done:   make(chan struct{}),
	}
}

func (c *Client) RoomID() string { return c.roomID }
func (c *Client) ConnID() string { return c.connID }

// enqueue never blocks: a client that cannot keep up loses the frame.
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn("Client send channel full, dropping frame")
	}
}

// Reject closes the socket with a websocket close code, e.g. after failed admission.
func (c *Client) Reject(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Debug("Failed to send close frame")
	}
	c.close()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// ReadPump decodes frames into room commands until the connection drops, then disconnects
// the client from its room.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.close()
		c.log.Info("readPump exited, client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.log.Debug("WebSocket connection closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Debugf("Ignoring non-text message type: %d", messageType)
			continue
		}

		var in inboundFrame
		if err := json.Unmarshal(message, &in); err != nil {
			c.log.WithError(err).Debug("Dropping unparsable frame")
			continue
		}
		cmd, err := room.DecodeCommand(in.Type, in.Data)
		if err != nil {
			c.log.WithError(err).WithField("type", in.Type).Debug("Dropping invalid command")
			continue
		}
		c.hub.Dispatch(c.roomID, c.connID, cmd)
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Debug("Failed to send ping message")
				return
			}
		case <-c.done:
			return
		}
	}
}
