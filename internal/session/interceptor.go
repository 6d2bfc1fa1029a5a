package session

import (
	"time"

	"github.com/casepot/sies/internal/logger"
	"github.com/casepot/sies/internal/metrics"
	"github.com/casepot/sies/internal/protocol"
)

// Interceptor observes every message the session's receive loop routes, in
// registration order, before the loop's own dispatch runs (spec §4.6).
// Interceptors must not block; heavy work belongs on a separately scheduled
// task. Grounded on the teacher's internal/mcp registry pattern: handlers
// registered once, invoked per message, by name for diagnostics.
type Interceptor struct {
	Name string
	Func func(protocol.Message)
}

// invokeInterceptors runs every interceptor against msg, logging and
// counting (but never removing) any call that overruns its soft budget —
// quarantine is a deliberately unimplemented evolution (spec §9).
func invokeInterceptors(interceptors []Interceptor, msg protocol.Message, budget time.Duration) {
	for _, ic := range interceptors {
		start := time.Now()
		ic.Func(msg)
		if elapsed := time.Since(start); elapsed > budget {
			logger.Warn("session: interceptor %q took %s, over budget %s", ic.Name, elapsed, budget)
			metrics.RecordInterceptorOverrun(ic.Name)
		}
	}
}
