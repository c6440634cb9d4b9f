package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary origins
		return true
	},
}

// wsConn adapts a gorilla WebSocket connection to the Conn interface. One
// frame payload maps to one text message in each direction.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *wsConn) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close(code int) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	deadline := time.Now().Add(time.Second)
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
	c.writeMu.Unlock()
	return c.ws.Close()
}

// HandleWebSocket upgrades an HTTP request and runs the connection's read
// loop. The loop is the per-connection serialization point: no two inbound
// frames from one connection are dispatched concurrently.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("websocket upgrade failed: %v", err)
		return
	}

	conn := &wsConn{ws: ws}
	s.OnOpen(conn)

	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *wsConn) {
	defer func() {
		conn.Close(CloseNormal)
		s.OnClose(conn)
	}()

	for {
		messageType, payload, err := conn.ws.ReadMessage()
		if err != nil {
			debugLog.Printf("connection %s read error: %v", conn.RemoteAddr(), err)
			return
		}
		if messageType != websocket.TextMessage {
			errorLog.Printf("connection %s: unsupported message type %d, closing", conn.RemoteAddr(), messageType)
			conn.Close(CloseProtocolError)
			return
		}
		s.OnFrame(conn, payload)
	}
}
