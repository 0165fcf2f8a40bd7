package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/gameverify-backend/internal/config"
	"github.com/stemsi/gameverify-backend/internal/middleware"
	"github.com/stemsi/gameverify-backend/internal/model"
	"github.com/stemsi/gameverify-backend/internal/response"
	ws "github.com/stemsi/gameverify-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams live suspicion events to reviewers.
type WSHandler struct {
	rdb      *redis.Client
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. rdb may be nil, in which case the
// feed is unavailable.
func NewWSHandler(rdb *redis.Client, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:      rdb,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// FlagFeedStream godoc
// WS /ws/v1/review/flags?token=...
// Pushes every suspicion event published by any server instance.
func (h *WSHandler) FlagFeedStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	if h.rdb == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Int("reviewer_id", claims.UserID).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := config.CacheKey.FlagFeedChannel()
	sub := h.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		wsLog.Error().Err(err).Msg("Flag feed subscribe failed")
		ws.WriteError(conn, "flag feed unavailable")
		return
	}
	if err := ws.WriteTyped(conn, ws.ReadyResponse{Event: ws.EventReady, Channel: channel}); err != nil {
		return
	}

	wsLog.Info().Msg("Reviewer connected to flag feed")

	// The reader only queues replies; every write happens on this goroutine
	// since a gorilla conn supports a single concurrent writer.
	replies := make(chan interface{}, 8)
	go h.readLoop(conn, wsLog, replies, cancel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			ws.WriteClose(conn, "bye")
			return

		case reply := <-replies:
			if err := ws.WriteTyped(conn, reply); err != nil {
				return
			}

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev model.SuspicionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				wsLog.Error().Err(err).Str("data", msg.Payload).Msg("Discarding malformed flag event")
				continue
			}
			if err := ws.WriteTyped(conn, ws.FlagResponse{Event: ws.EventFlag, Flag: ev}); err != nil {
				wsLog.Debug().Err(err).Msg("Flag write failed, closing")
				return
			}
		}
	}
}

// readLoop handles client pings until the connection closes, then cancels
// the stream.
func (h *WSHandler) readLoop(conn *websocket.Conn, log zerolog.Logger, replies chan<- interface{}, cancel context.CancelFunc) {
	defer cancel()
	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}

		var reply interface{}
		switch msg.Action {
		case ws.ActionPing:
			reply = ws.PongResponse{Event: ws.EventPong}
		default:
			reply = ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(msg.Action)}
		}

		select {
		case replies <- reply:
		default:
			// Client is flooding faster than we write; drop.
		}
	}
}
