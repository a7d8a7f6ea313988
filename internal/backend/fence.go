package backend

import "go.uber.org/atomic"

// Fence hands out increasing request tokens so that only the response to the
// most recent request is acted upon. Older responses are dropped.
type Fence struct {
	latest atomic.Uint64
}

// Next issues a token that supersedes every earlier one.
func (f *Fence) Next() uint64 {
	return f.latest.Inc()
}

// Current reports whether token is still the latest issued.
func (f *Fence) Current(token uint64) bool {
	return f.latest.Load() == token
}
