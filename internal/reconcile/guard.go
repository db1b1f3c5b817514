package reconcile

import "sync/atomic"

// RequestGuard tells whether a response still belongs to the latest request.
// Superseded requests are not cancelled; their results are just discarded.
type RequestGuard struct {
	latest atomic.Uint64
}

// Begin starts a new request and supersedes every earlier one.
func (g *RequestGuard) Begin() uint64 {
	return g.latest.Add(1)
}

func (g *RequestGuard) IsLatest(token uint64) bool {
	return g.latest.Load() == token
}
