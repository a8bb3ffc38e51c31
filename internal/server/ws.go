package server

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// wsConn adapts a coder/websocket connection to the gateway.Conn interface.
type wsConn struct {
	c    *websocket.Conn
	addr string
}

func (w *wsConn) Read(ctx context.Context) ([]byte, bool, error) {
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	return data, typ == websocket.MessageBinary, nil
}

func (w *wsConn) Write(ctx context.Context, data []byte, binary bool) error {
	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}
	return w.c.Write(ctx, typ, data)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}

func (w *wsConn) RemoteAddr() string { return w.addr }

// handleProducer upgrades the device connection and hands it to the gateway
// as the authoritative producer. The handler blocks for the connection's
// lifetime.
func (s *Server) handleProducer(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("producer upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}
	if s.maxFrameBytes > 0 {
		c.SetReadLimit(int64(s.maxFrameBytes))
	}

	conn := &wsConn{c: c, addr: r.RemoteAddr}
	if err := s.gw.ServeProducer(r.Context(), conn); err != nil {
		s.log.Debug("producer session ended with error", "addr", r.RemoteAddr, "err", err)
	}
}

// handleConsumer upgrades a dashboard connection and registers it as a
// consumer. The handler blocks for the connection's lifetime.
func (s *Server) handleConsumer(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("consumer upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	conn := &wsConn{c: c, addr: r.RemoteAddr}
	if err := s.gw.ServeConsumer(r.Context(), conn); err != nil && r.Context().Err() == nil {
		s.log.Debug("consumer ended with error", "addr", r.RemoteAddr, "err", err)
	}
}
