package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"chat-relay/internal/protocol"
	"chat-relay/internal/session"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Client binds one websocket connection to its session and runs the two
// pumps.
type Client struct {
	conn    *websocket.Conn
	session *session.Session
	gateway *Gateway
	log     *log.Logger

	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, sess *session.Session, g *Gateway, l *log.Logger) *Client {
	return &Client{
		conn:    conn,
		session: sess,
		gateway: g,
		log:     l,
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.session.Outbound():
			data, err := json.Marshal(frame)
			if err != nil {
				c.log.Println("failed to serialize frame:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, data) {
				return
			}
		case <-c.session.Done():
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.gateway.Disconnect(c.session)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var frame protocol.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.session.Queue(protocol.ErrorFrame(0, protocol.ErrMalformedFrame))
			continue
		}

		c.dispatch(&frame)
	}
}

func (c *Client) dispatch(frame *protocol.ClientFrame) {
	ctx := context.Background()

	var resp *protocol.ServerFrame
	switch {
	case frame.Subscribe != nil:
		resp = c.gateway.Subscribe(ctx, c.session, frame.Id, frame.Subscribe.Destination)
	case frame.Unsubscribe != nil:
		resp = c.gateway.Unsubscribe(c.session, frame.Id, frame.Unsubscribe.Destination)
	case frame.Send != nil:
		resp = c.gateway.Publish(ctx, c.session, frame.Id, frame.Send)
	default:
		resp = protocol.ErrorFrame(frame.Id, protocol.ErrMalformedFrame)
	}

	c.session.Queue(resp)
}

func (c *Client) sendMessage(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.session.Close()
		c.conn.Close()
	})
}
