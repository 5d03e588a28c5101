package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// executionStats holds counters for rule executions by action type and outcome.
type executionStats struct {
	total      uint64
	mu         sync.Mutex
	byOutcome  map[string]uint64 // "<action_type>|<status>"
	durationMs map[string]uint64 // "<action_type>" -> summed duration
	skipped    uint64
}

// rateLimitStats holds counters for rate limit drops (HTTP 429).
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var (
	exec      executionStats
	rl        rateLimitStats
	startedAt = time.Now()
)

// ExecutionSample is one (action type, status) counter.
type ExecutionSample struct {
	ActionType string
	Status     string
	Count      uint64
}

// ObserveExecution records one finished execution.
func ObserveExecution(actionType, status string, duration time.Duration) {
	if actionType == "" {
		actionType = "unknown"
	}
	atomic.AddUint64(&exec.total, 1)
	exec.mu.Lock()
	if exec.byOutcome == nil {
		exec.byOutcome = make(map[string]uint64)
		exec.durationMs = make(map[string]uint64)
	}
	exec.byOutcome[actionType+"|"+status]++
	if duration > 0 {
		exec.durationMs[actionType] += uint64(duration.Milliseconds())
	}
	exec.mu.Unlock()
}

// IncSkipped counts dispatches that were skipped (disabled rule, lost schedule claim).
func IncSkipped() {
	atomic.AddUint64(&exec.skipped, 1)
}

// ExecutionSnapshot returns sorted copies of the execution counters.
func ExecutionSnapshot() (total, skipped uint64, samples []ExecutionSample, durationMs map[string]uint64) {
	total = atomic.LoadUint64(&exec.total)
	skipped = atomic.LoadUint64(&exec.skipped)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	samples = make([]ExecutionSample, 0, len(exec.byOutcome))
	for k, v := range exec.byOutcome {
		at, st := splitKey(k)
		samples = append(samples, ExecutionSample{ActionType: at, Status: st, Count: v})
	}
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].ActionType != samples[j].ActionType {
			return samples[i].ActionType < samples[j].ActionType
		}
		return samples[i].Status < samples[j].Status
	})
	durationMs = make(map[string]uint64, len(exec.durationMs))
	for k, v := range exec.durationMs {
		durationMs[k] = v
	}
	return total, skipped, samples, durationMs
}

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}

// Uptime since process start.
func Uptime() time.Duration { return time.Since(startedAt) }

func splitKey(k string) (string, string) {
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == '|' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}
