package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// wsConn adapts a gorilla connection to the handle the engines store on
// players. Writes are serialized through a single writer goroutine (gorilla
// allows one concurrent writer); a full send buffer drops the payload rather
// than block a tick.
type wsConn struct {
	ws   *websocket.Conn
	ip   string
	send chan any
	done chan struct{}

	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, ip string) *wsConn {
	c := &wsConn{
		ws:   ws,
		ip:   ip,
		send: make(chan any, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *wsConn) writePump() {
	for {
		select {
		case v := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(v); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
			IncrementWSMessages()
		case <-c.done:
			return
		}
	}
}

// Send queues a payload for delivery. Never blocks.
func (c *wsConn) Send(v any) {
	select {
	case <-c.done:
	case c.send <- v:
	default:
		RecordMessageDropped()
	}
}

// Close sends a close frame with the given status and tears the connection
// down. Safe to call more than once.
func (c *wsConn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		c.ws.Close()
	})
}
