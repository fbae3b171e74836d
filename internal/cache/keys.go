package cache

import (
	"fmt"
	"time"
)

const (
	RunLockKey   = "jobhunter:run:lock"
	LatestRunKey = "jobhunter:run:latest"
)

// LatestRunTTL keeps the last run summary for a week.
const LatestRunTTL = 7 * 24 * time.Hour

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
