package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteWait = 10 * time.Second
	wsReadLimit = maxRequestBytes
)

// handleWebSocket scores one PredictRequest per text frame and answers each
// with a PredictResponse or an ErrorResponse. The connection stays open until
// the client closes it or the server shuts down.
func (a *App) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}
	a.trackClient(conn)
	defer func() {
		a.untrackClient(conn)
		conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	log.Debug().Str("remote", r.RemoteAddr).Msg("Scoring client connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Scoring websocket closed unexpectedly")
			}
			return
		}

		var reply any
		if msgType != websocket.TextMessage {
			reply = ErrorResponse{Error: "expected a JSON text frame"}
		} else {
			reply = a.scoreFrame(data)
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(reply); err != nil {
			log.Error().Err(err).Msg("Failed to send message to WebSocket client")
			return
		}
	}
}

func (a *App) scoreFrame(data []byte) any {
	var req PredictRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	resp, err := a.score(req)
	if err != nil {
		var re *requestError
		if !errors.As(err, &re) {
			log.Error().Err(err).Str("request_id", req.RequestID).Msg("Websocket prediction failed")
		}
		return ErrorResponse{Error: err.Error(), RequestID: req.RequestID}
	}
	return resp
}
