package realtime

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client pumps a subscription's events over a websocket connection. The
// read side only services control frames and detects disconnects;
// mutations arrive over the HTTP API, not the socket.
type Client struct {
	conn   *websocket.Conn
	sub    *Subscription
	logger *logrus.Logger
}

// NewClient creates a Client for an upgraded connection.
func NewClient(conn *websocket.Conn, sub *Subscription, logger *logrus.Logger) *Client {
	return &Client{conn: conn, sub: sub, logger: logger}
}

// Run sends the snapshot event followed by the live tail, blocking until
// the connection or subscription ends.
func (c *Client) Run(snapshot Event) {
	closed := make(chan struct{})
	go c.readLoop(closed)
	c.writeLoop(snapshot, closed)
}

func (c *Client) readLoop(closed chan struct{}) {
	defer close(closed)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}

func (c *Client) writeLoop(snapshot Event, closed chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.sub.Close()
	}()

	if !c.send(snapshot) {
		return
	}

	for {
		select {
		case ev, ok := <-c.sub.C:
			if !ok {
				return
			}
			if !c.send(ev) {
				return
			}
		case <-c.sub.Done:
			return
		case <-closed:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) send(ev Event) bool {
	raw, err := json.Marshal(ev)
	if err != nil {
		c.logger.WithError(err).Error("failed to serialize event")
		return true
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.logger.WithError(err).Debug("websocket write error")
		}
		return false
	}
	return true
}
