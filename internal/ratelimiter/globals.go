package ratelimiter

import (
	"time"
)

const (
	// UnknownIdentity is the shared bucket for callers whose address cannot be determined.
	UnknownIdentity = "unknown"
	StateKey        = "ratelimit_v1"

	persistTimeout = 2 * time.Second
)
