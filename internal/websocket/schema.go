package websocket

import "github.com/stemsi/gameverify-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError Event = "error"
	EventReady Event = "ready"
	EventFlag  Event = "flag"
	EventPong  Event = "pong"
)

// ReadyResponse is sent once the feed subscription is live.
type ReadyResponse struct {
	Event   Event  `json:"event"`
	Channel string `json:"channel"`
}

// FlagResponse carries one suspicion event to a reviewer.
type FlagResponse struct {
	Event Event                `json:"event"`
	Flag  model.SuspicionEvent `json:"flag"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
