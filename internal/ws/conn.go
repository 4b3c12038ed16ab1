package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn adapts a gorilla websocket connection to the relay's client channel.
// Reads stay unguarded (single reader: the frame pump); writes are serialized
// because the transcript pump and the session's finish path both emit text.
type conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *conn { return &conn{ws: ws} }

func (c *conn) ReadMessage() (bool, []byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return false, nil, err
	}
	return mt == websocket.BinaryMessage, data, nil
}

func (c *conn) WriteText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *conn) CloseNormal() error {
	return c.close(websocket.CloseNormalClosure, "")
}

func (c *conn) CloseWithError(reason string) error {
	return c.close(websocket.CloseInternalServerErr, reason)
}

func (c *conn) close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
