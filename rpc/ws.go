package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"magink/core"
)

const (
	wsWriteTimeout = 10 * time.Second
)

type eventPayload struct {
	Type       string            `json:"type"`
	Cursor     string            `json:"cursor"`
	Height     uint64            `json:"height"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			s.logger.Debug("event stream ended", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) originPatterns() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	ctx = conn.CloseRead(ctx)
	updates, cancel, backlog, err := s.node.Subscribe(ctx, cursor)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return err
	}
	defer cancel()

	for _, update := range backlog {
		if err := writeEventUpdate(ctx, conn, update); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEventUpdate(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func writeEventUpdate(ctx context.Context, conn *websocket.Conn, update core.EventUpdate) error {
	data, err := json.Marshal(eventPayload{
		Type:       update.Event.Type,
		Cursor:     update.Cursor,
		Height:     update.Height,
		Attributes: update.Event.Attributes,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
