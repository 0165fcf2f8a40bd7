package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionSessionsReview allows reading flagged sessions and the live flag feed.
	PermissionSessionsReview Permission = "sessions:review"
)
