package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pair-quiz-service/internal/domain"
	"pair-quiz-service/internal/logger"
)

// WSHandler lets a player drive a game over one websocket and receive live
// updates when the opponent acts.
type WSHandler struct {
	games    GameUseCases
	upgrader websocket.Upgrader
}

func NewWSHandler(games GameUseCases) *WSHandler {
	return &WSHandler{
		games: games,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

const writeWait = 10 * time.Second

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Answer string `json:"answer"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    domain.ResultCode `json:"code"`
	Message string            `json:"message"`
}

// ServeWS upgrades an authenticated request. Inbound messages are "connect",
// "current" and "answer"; replies are "game", "answerResult" and "error",
// and pushed opponent moves arrive as "update".
func (h *WSHandler) ServeWS(c *gin.Context) {
	userID := UserID(c)
	ctx := c.Request.Context()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer conn.Close()

	updates, cancel, err := h.games.Subscribe(ctx, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: toErrorPayload(err)})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer: gorilla connections do not support concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("ws write failed", "user_id", userID, "error", err)
				_ = conn.Close()
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "update", Payload: update}:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	if view, err := h.games.FindCurrentGame(ctx, userID); err == nil {
		push(outboundMessage[any]{Type: "game", Payload: view})
	} else if !errors.Is(err, domain.ErrGameNotFound) {
		push(errorMessage(err))
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "connect":
			view, err := h.games.Connect(ctx, userID)
			if err != nil {
				push(errorMessage(err))
				continue
			}
			push(outboundMessage[any]{Type: "game", Payload: view})
		case "current":
			view, err := h.games.FindCurrentGame(ctx, userID)
			if err != nil {
				push(errorMessage(err))
				continue
			}
			push(outboundMessage[any]{Type: "game", Payload: view})
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(errorMessage(domain.ErrBadRequest))
				continue
			}
			result, err := h.games.SubmitAnswer(ctx, userID, payload.Answer)
			if err != nil {
				push(errorMessage(err))
				continue
			}
			push(outboundMessage[any]{Type: "answerResult", Payload: result})
		default:
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: domain.CodeBadRequest, Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: toErrorPayload(err)}
}

func toErrorPayload(err error) errorPayload {
	code := domain.CodeOf(err)
	message := err.Error()
	if code == domain.CodeInternal {
		logger.Error("ws request failed", "error", err)
		message = "internal error"
	}
	return errorPayload{Code: code, Message: message}
}
