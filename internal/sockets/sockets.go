package sockets

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

type SocketID string

const writeTimeout = 10 * time.Second

// Socket serializes writes on one websocket connection.
type Socket interface {
	WriteJSON(v any) error
	WriteBinary(b []byte) error
	Close() error
}

type socketImpl struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func NewSocket(conn *websocket.Conn) Socket {
	return &socketImpl{ws: conn}
}

func (s *socketImpl) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ws.WriteJSON(v)
}

func (s *socketImpl) WriteBinary(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ws.WriteMessage(websocket.BinaryMessage, b)
}

func (s *socketImpl) Close() error {
	return s.ws.Close()
}
