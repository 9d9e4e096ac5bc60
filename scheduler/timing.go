package scheduler

import "time"

// IsExpired reports whether a token expiring at expiresAt must be treated
// as expired at now. A zero expiresAt is always expired.
func IsExpired(now, expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return true
	}
	return !now.Before(expiresAt.Add(-grace))
}

// TimeToNextCheck is the delay until the next expiry check: the time left
// before the grace window opens, capped at max and never negative.
func TimeToNextCheck(now, expiresAt time.Time, grace, max time.Duration) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Add(-grace).Sub(now)
	if d < 0 {
		return 0
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
