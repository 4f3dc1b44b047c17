package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-sharing/internal/models"
)

var ErrNoSession = errors.New("no websocket session")

const writeWait = 5 * time.Second

// WSSession is one connected passenger client.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(a models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(a)
}

// WSRegistry holds the live session of each passenger. A newer connection
// replaces the older one.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(passengerID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[passengerID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[passengerID] = &WSSession{conn: conn}
}

// Remove drops the session if conn is still the registered one.
func (r *WSRegistry) Remove(passengerID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[passengerID]; ok && s.conn == conn {
		delete(r.sessions, passengerID)
	}
}

func (r *WSRegistry) Notify(_ context.Context, a models.Alert) error {
	r.mu.RLock()
	s, ok := r.sessions[a.ReceiverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(a); err != nil {
		r.Remove(a.ReceiverID, s.conn)
		return err
	}
	return nil
}
