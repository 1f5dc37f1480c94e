package transport

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer gates the start of every outbound request.
type Pacer interface {
	Wait(ctx context.Context) error
}

// RatePacer lets one request start per `delay`, shared by every client and
// worker it is handed to. The first request starts right away.
type RatePacer struct {
	limiter *rate.Limiter
}

func NewRatePacer(delay time.Duration) RatePacer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return RatePacer{limiter: rate.NewLimiter(limit, 1)}
}

func (p RatePacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
