package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"yieldstake/core/events"
	"yieldstake/core/types"
)

const wsWriteTimeout = 10 * time.Second

// handlePreviewStream pushes the owner's reward preview on a fixed interval
// and immediately after any committed settlement that touches the owner.
func (s *Server) handlePreviewStream(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwner(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.ledger.Config(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns(s.cors.AllowedOrigins)})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The client never sends; CloseRead cancels ctx when it disconnects.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamPreview(ctx, conn, owner); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Debug("preview stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamPreview(ctx context.Context, conn *websocket.Conn, owner [20]byte) error {
	var updates <-chan events.Event
	if s.broker != nil {
		ch, cancel := s.broker.Subscribe()
		defer cancel()
		updates = ch
	}
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	ownerAddr := ownerString(owner)
	if err := s.writePreview(ctx, conn, owner); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case evt, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if !touchesOwner(evt, ownerAddr) {
				continue
			}
		}
		if err := s.writePreview(ctx, conn, owner); err != nil {
			return err
		}
	}
}

func (s *Server) writePreview(ctx context.Context, conn *websocket.Conn, owner [20]byte) error {
	preview, err := s.ledger.Preview(ctx, owner)
	if err != nil {
		return err
	}
	data, err := json.Marshal(newPreviewResponse(preview))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func touchesOwner(evt events.Event, owner string) bool {
	envelope, ok := evt.(*types.Event)
	if !ok {
		return false
	}
	return envelope.Attributes["owner"] == owner
}

// originPatterns converts CORS origins into the host patterns the websocket
// handshake matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
