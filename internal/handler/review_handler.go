package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/gameverify-backend/internal/response"
	"github.com/stemsi/gameverify-backend/internal/service"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ReviewHandler serves the anti-cheat review endpoints.
type ReviewHandler struct {
	sessionService *service.GameSessionService
	log            zerolog.Logger
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(sessionService *service.GameSessionService, log zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "review_handler").Logger(),
	}
}

// ListSuspicious godoc
// GET /api/v1/review/sessions/suspicious?page=1&per_page=20
func (h *ReviewHandler) ListSuspicious(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}

	sessions, total, err := h.sessionService.ListSuspicious(c.Request.Context(), page, perPage)
	if err != nil {
		h.log.Error().Err(err).Msg("list suspicious sessions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"sessions": sessions}, response.NewPagination(page, perPage, total))
}

// GetSession godoc
// GET /api/v1/review/sessions/:session_id
// Returns the full record including the answer key and suspicion reasons.
func (h *ReviewHandler) GetSession(c *gin.Context) {
	sess, err := h.sessionService.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		status, code := sessionErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Msg("get session failed")
		}
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, sess)
}

// CountSuspicious godoc
// GET /api/v1/review/users/:user_id/suspicious-count
func (h *ReviewHandler) CountSuspicious(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil || userID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	n, err := h.sessionService.CountSuspicious(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Int("user_id", userID).Msg("count suspicious sessions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user_id": userID, "suspicious_count": n})
}
