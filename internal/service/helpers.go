package service

import (
	"time"
)

// GetExpiresAt converts an expires_in lifetime in seconds into an absolute
// expiry.
func GetExpiresAt(expiresIn int64) *time.Time {
	t := time.Now().Add(time.Duration(expiresIn) * time.Second)
	return &t
}
