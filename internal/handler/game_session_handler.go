package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/gameverify-backend/internal/middleware"
	"github.com/stemsi/gameverify-backend/internal/model"
	"github.com/stemsi/gameverify-backend/internal/response"
	"github.com/stemsi/gameverify-backend/internal/service"
	"github.com/stemsi/gameverify-backend/internal/validator"
)

// GameSessionHandler handles player-facing game session endpoints.
type GameSessionHandler struct {
	sessionService *service.GameSessionService
	log            zerolog.Logger
}

// NewGameSessionHandler creates a new GameSessionHandler.
func NewGameSessionHandler(sessionService *service.GameSessionService, log zerolog.Logger) *GameSessionHandler {
	return &GameSessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "game_session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/game/sessions/start
// Freezes the question set and opens a session for the caller.
func (h *GameSessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.sessionService.Start(c.Request.Context(), service.StartInput{
		UserID:    claims.UserID,
		GameType:  req.GameType,
		LevelID:   req.LevelID,
		Questions: req.Questions,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidSnapshot) {
			response.FailError(c, http.StatusBadRequest, response.ErrInvalidSnapshot, err.Error())
			return
		}
		h.log.Error().Err(err).Int("user_id", claims.UserID).Msg("start session failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, model.StartSessionResponse{
		SessionID: sess.SessionID,
		StartTime: sess.StartTime,
	})
}

// SubmitSession godoc
// POST /api/v1/game/sessions/submit
// Verifies the signature, recomputes the score and finalizes the session.
func (h *GameSessionHandler) SubmitSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	// Only the owner may submit; anyone else sees the session as missing.
	if _, err := h.sessionService.GetPlayerSession(c.Request.Context(), claims.UserID, req.SessionID); err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.sessionService.Submit(c.Request.Context(), service.SubmitInput{
		SessionID:   req.SessionID,
		Answers:     req.Answers,
		ClientScore: req.ClientScore,
		Signature:   req.Signature,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// SignSubmission godoc
// POST /api/v1/game/sessions/sign
// Debug only: returns the signature the client should send.
func (h *GameSessionHandler) SignSubmission(c *gin.Context) {
	var req model.SignRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"signature": h.sessionService.Sign(req.SessionID, req.Answers),
	})
}

// GetSession godoc
// GET /api/v1/game/sessions/:session_id
// Returns the caller's session; correct answers stay hidden until submitted.
func (h *GameSessionHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sess, err := h.sessionService.GetPlayerSession(c.Request.Context(), claims.UserID, c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, sess)
}

// ListSessions godoc
// GET /api/v1/game/sessions?limit=20
// Lists the caller's sessions, newest first.
func (h *GameSessionHandler) ListSessions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	sessions, err := h.sessionService.ListUserSessions(c.Request.Context(), claims.UserID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": sessions})
}

// GetBestScore godoc
// GET /api/v1/game/best-score?game_type=quiz
// Returns the caller's best verified score for a game type.
func (h *GameSessionHandler) GetBestScore(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	gameType := c.Query("game_type")
	if gameType == "" {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"game_type": "game_type is a required field",
		})
		return
	}

	best, err := h.sessionService.BestScore(c.Request.Context(), claims.UserID, gameType)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"game_type": gameType, "best_score": best})
}

// fail maps service errors onto API error codes.
func (h *GameSessionHandler) fail(c *gin.Context, err error) {
	status, code := sessionErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("game session request failed")
	}
	response.Fail(c, status, code)
}

func sessionErrorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInvalidSession):
		return http.StatusNotFound, response.ErrInvalidSession
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, service.ErrSessionExpired):
		return http.StatusGone, response.ErrSessionExpired
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusForbidden, response.ErrInvalidSignature
	case errors.Is(err, service.ErrScoreMismatch):
		return http.StatusUnprocessableEntity, response.ErrScoreMismatch
	case errors.Is(err, service.ErrLockTimeout):
		return http.StatusConflict, response.ErrSessionBusy
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
