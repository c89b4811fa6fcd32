package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptAnswersKey returns the cache key holding a candidate's answer map
// for one attempt. This is the well-known durable store that survives a
// page reload; it is cleared only on confirmed successful submission.
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptFlagsKey returns the cache key holding a candidate's flagged
// question positions for one attempt.
func (r *CacheKeyStruct) AttemptFlagsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:flags", attemptID)
}

// AttemptViolationsKey returns the cache key holding the per-type violation
// counters for one attempt.
func (r *CacheKeyStruct) AttemptViolationsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:violations", attemptID)
}

// AttemptStartKey returns the cache key for an attempt's start instant
// (Unix seconds), used to recompute the absolute deadline after a reload.
func (r *CacheKeyStruct) AttemptStartKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:started_at", attemptID)
}

var CacheKey = NewCacheKeyStruct()
