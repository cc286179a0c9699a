package rocket

import (
	"math/rand"
	"time"
)

// RetryDelay computes the Sidekiq/delayed_job-compatible backoff for a
// failed singleton job's count-th retry: count⁴ + 15 + random(0,30)·(count+1)
// seconds. Callers add this to time.Now() to compute the job's next RunAt.
func RetryDelay(count int) time.Duration {
	n := float64(count)
	seconds := n*n*n*n + 15 + rand.Float64()*30*(n+1)
	return time.Duration(seconds * float64(time.Second))
}

