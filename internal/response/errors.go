package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied   ErrCode = "PERMISSION_DENIED"
	ErrPlayerAccessOnly   ErrCode = "PLAYER_ACCESS_ONLY"
	ErrReviewerAccessOnly ErrCode = "REVIEWER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation      ErrCode = "VALIDATION_ERROR"
	ErrInvalidID       ErrCode = "INVALID_ID"
	ErrInvalidSnapshot ErrCode = "INVALID_QUESTION_SNAPSHOT"

	// ─── Game session ──────────────────────────────────────────────────
	ErrInvalidSession   ErrCode = "INVALID_SESSION"
	ErrAlreadySubmitted ErrCode = "SESSION_ALREADY_SUBMITTED"
	ErrSessionExpired   ErrCode = "SESSION_EXPIRED"
	ErrInvalidSignature ErrCode = "INVALID_SIGNATURE"
	ErrScoreMismatch    ErrCode = "SCORE_MISMATCH"
	ErrSessionBusy      ErrCode = "SESSION_BUSY"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPermissionDenied:
		return "Permission denied."
	case ErrPlayerAccessOnly:
		return "This resource is limited to players."
	case ErrReviewerAccessOnly:
		return "This resource is limited to reviewers."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidSnapshot:
		return "Question ids must be unique and non-empty."

	// ─── Game session ──────────────────────────────────────────────────
	case ErrInvalidSession:
		return "Game session not found."
	case ErrAlreadySubmitted:
		return "Game session was already submitted."
	case ErrSessionExpired:
		return "Game session has expired."
	case ErrInvalidSignature:
		return "Submission signature is invalid."
	case ErrScoreMismatch:
		return "Reported score does not match the verified score."
	case ErrSessionBusy:
		return "Another submission for this session is in progress."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
