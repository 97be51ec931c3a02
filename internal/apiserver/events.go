package apiserver

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/internal/source"
)

const writeTimeout = 5 * time.Second

// EventHello is the first message on every /api/events connection.
const EventHello source.EventType = "hello"

// handleEvents streams bus events as JSON text messages until the client
// goes away. Client messages are discarded.
func (s *Server) handleEvents(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.CloseNow()

	events, cancel := s.bus.Subscribe(32)
	defer cancel()
	s.logger.Debug("events client connected", zap.Int("subscribers", s.bus.Subscribers()))

	ctx := conn.CloseRead(c.Request().Context())
	if err := s.send(ctx, conn, source.Event{Type: EventHello, Mode: s.store.Mode(), Timestamp: time.Now().UTC()}); err != nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case ev, open := <-events:
			if !open {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return nil
			}
			if err := s.send(ctx, conn, ev); err != nil {
				s.logger.Debug("events client dropped", zap.Error(err))
				return nil
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, ev source.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
