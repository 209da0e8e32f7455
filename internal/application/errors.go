package application

import (
	"fmt"
	"time"
)

// RateLimitError denies admission before any validation or upstream work.
type RateLimitError struct {
	RetryAfterSeconds int
	Remaining         int
	ResetAt           time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}
