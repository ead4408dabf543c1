package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/middleware/validation"
	"github.com/legal-rag/backend/internal/query"
	"github.com/legal-rag/backend/pkg/logger"
)

type WebSocketHandler struct {
	queryEngine    QueryProcessor
	maxQueryLength int
}

func NewWebSocketHandler(queryEngine QueryProcessor, maxQueryLength int) *WebSocketHandler {
	if maxQueryLength <= 0 {
		maxQueryLength = validation.DefaultMaxQueryLength
	}
	return &WebSocketHandler{
		queryEngine:    queryEngine,
		maxQueryLength: maxQueryLength,
	}
}

type wsMessage struct {
	Type string `json:"type"`
	queryRequest
}

// jsonConn is the part of *websocket.Conn the session needs.
type jsonConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
}

// frameWriter serializes writes to one connection.
type frameWriter struct {
	mu   sync.Mutex
	conn jsonConn
}

func (w *frameWriter) write(msg map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(msg)
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")
	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	h.serve(context.Background(), c, c.Headers("X-User-ID"))
}

// serve runs one session. Messages are read on a separate goroutine so a
// disconnect cancels the query in flight.
func (h *WebSocketHandler) serve(parent context.Context, conn jsonConn, userID string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	msgs := make(chan wsMessage)
	go func() {
		defer close(msgs)
		defer cancel()
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn("Failed to read WebSocket message", zap.Error(err))
				}
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	w := &frameWriter{conn: conn}
	for msg := range msgs {
		if msg.Type != "query" {
			continue
		}

		req := query.QueryRequest{
			Query:    validation.SanitizeQuery(msg.Query),
			UserID:   msg.UserID,
			Settings: msg.Settings,
		}
		if req.UserID == "" {
			req.UserID = userID
		}

		if reason := h.rejectQuery(req.Query); reason != "" {
			_ = w.write(map[string]interface{}{"type": "error", "error": reason})
			continue
		}

		if err := h.streamResponse(ctx, w, req); err != nil {
			if ctx.Err() != nil {
				logger.Info("WebSocket query cancelled", zap.Error(err))
				continue
			}
			logger.Error("Failed to stream response", zap.Error(err))
			_ = w.write(map[string]interface{}{
				"type":  "error",
				"error": clientMessage(err),
			})
		}
	}
}

func (h *WebSocketHandler) rejectQuery(q string) string {
	if q == "" {
		return "Query is required and must be a string"
	}
	return validation.CheckQuery(q, h.maxQueryLength)
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, w *frameWriter, req query.QueryRequest) error {
	progress := func(stage query.Stage) {
		if err := w.write(map[string]interface{}{
			"type":  "status",
			"stage": string(stage),
		}); err != nil {
			logger.Warn("Failed to send stage frame", zap.String("stage", string(stage)), zap.Error(err))
		}
	}

	response, err := h.queryEngine.ProcessQueryWithProgress(ctx, req, progress)
	if err != nil {
		return err
	}

	return w.write(map[string]interface{}{
		"type":     "complete",
		"response": response,
	})
}

func clientMessage(err error) string {
	if errors.Is(err, query.ErrEmptyQuery) {
		return err.Error()
	}
	return "Failed to process query"
}
