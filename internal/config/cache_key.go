package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SubmitLockKey returns the key guarding the submit critical section of a session
func (r *CacheKeyStruct) SubmitLockKey(sessionID string) string {
	return fmt.Sprintf("game_session:%s:submit_lock", sessionID)
}

// FlagFeedChannel returns the Redis PubSub channel that fans suspicion events out to reviewers
func (r *CacheKeyStruct) FlagFeedChannel() string {
	return "game_session:flags"
}

var CacheKey = NewCacheKeyStruct()
