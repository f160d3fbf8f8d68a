package http

import "golang.org/x/time/rate"

// chatLimiter is a per-connection token bucket. A nil limiter allows everything.
type chatLimiter struct {
	lim *rate.Limiter
}

func newChatLimiter(perSecond float64, burst int) *chatLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &chatLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *chatLimiter) allow() bool {
	if l == nil {
		return true
	}
	return l.lim.Allow()
}
