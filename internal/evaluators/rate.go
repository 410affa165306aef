package evaluators

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"actionguard/internal/core"
)

// periodSeconds maps a rate-limit period name (and its common
// abbreviations) to its length in seconds, mirroring the reference
// limiter's period table.
var periodSeconds = map[string]float64{
	"sec": 1, "second": 1, "seconds": 1, "s": 1,
	"min": 60, "minute": 60, "minutes": 60, "m": 60,
	"hour": 3600, "hours": 3600, "h": 3600,
	"day": 86400, "days": 86400, "d": 86400,
}

// RateLimit is a parsed "N/period" rate limit, e.g. "60/min" or "100/hour".
type RateLimit struct {
	Count  int
	Window time.Duration
	raw    string
}

// ParseRateLimit parses a string of the form "<count>/<period>".
func ParseRateLimit(s string) (RateLimit, error) {
	countStr, periodStr, ok := strings.Cut(s, "/")
	if !ok {
		return RateLimit{}, fmt.Errorf("invalid rate limit %q: expected format N/period", s)
	}
	count, err := strconv.Atoi(strings.TrimSpace(countStr))
	if err != nil || count <= 0 {
		return RateLimit{}, fmt.Errorf("invalid rate limit %q: count must be a positive integer", s)
	}
	secs, ok := periodSeconds[strings.ToLower(strings.TrimSpace(periodStr))]
	if !ok {
		return RateLimit{}, fmt.Errorf("invalid rate limit %q: unrecognized period %q", s, periodStr)
	}
	return RateLimit{Count: count, Window: time.Duration(secs * float64(time.Second)), raw: s}, nil
}

func (r RateLimit) String() string { return r.raw }

// slidingWindow tracks the monotonic timestamps of recent allowed calls
// for a single key, evicting entries older than the configured window on
// each check.
type slidingWindow struct {
	mu    sync.Mutex
	times []time.Time
}

func (w *slidingWindow) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(w.times) && w.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.times = w.times[i:]
	}
}

func (w *slidingWindow) checkAndMaybeRecord(now time.Time, limit RateLimit, record bool) (allowed bool, count int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, limit.Window)
	allowed = len(w.times) < limit.Count
	if allowed && record {
		w.times = append(w.times, now)
	}
	return allowed, len(w.times)
}

// RateLimiter enforces per-agent and per-(agent,tool) sliding-window rate
// limits. It records a call against both windows only when the limiter
// itself allows it. An action that a later evaluator blocks still counts
// against the windows; this over-count is an accepted approximation. The
// check and the record are separate lock acquisitions, so two concurrent
// calls at the limit boundary may both be admitted.
type RateLimiter struct {
	defaultLimit RateLimit
	perTool      map[string]RateLimit // exact action type -> limit
	perToolGlob  []toolGlobLimit      // glob pattern -> limit, checked in order

	mu      sync.Mutex
	windows map[string]*slidingWindow // key -> window
}

type toolGlobLimit struct {
	pattern string
	limit   RateLimit
}

func NewRateLimiter(defaultLimit RateLimit) *RateLimiter {
	return &RateLimiter{
		defaultLimit: defaultLimit,
		perTool:      make(map[string]RateLimit),
		windows:      make(map[string]*slidingWindow),
	}
}

// SetToolLimit registers a per-tool override keyed by action type.
// Patterns ending in "*" are prefix-matched; exact action types take
// precedence and are checked first.
func (l *RateLimiter) SetToolLimit(actionTypePattern string, limit RateLimit) {
	if strings.HasSuffix(actionTypePattern, "*") {
		l.perToolGlob = append(l.perToolGlob, toolGlobLimit{pattern: actionTypePattern, limit: limit})
		return
	}
	l.perTool[actionTypePattern] = limit
}

func (l *RateLimiter) limitForActionType(actionType string) RateLimit {
	if lim, ok := l.perTool[actionType]; ok {
		return lim
	}
	for _, g := range l.perToolGlob {
		if strings.HasPrefix(actionType, strings.TrimSuffix(g.pattern, "*")) {
			return g.limit
		}
	}
	return l.defaultLimit
}

func (l *RateLimiter) windowFor(key string) *slidingWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &slidingWindow{}
		l.windows[key] = w
	}
	return w
}

func (l *RateLimiter) Name() string  { return "rate_limiter" }
func (l *RateLimiter) Enabled() bool { return true }
func (l *RateLimiter) Priority() int { return 40 }

func (l *RateLimiter) Evaluate(_ context.Context, intent core.Intent) (core.EvaluatorResult, error) {
	now := time.Now()

	agentLimit := l.defaultLimit
	agentKey := "agent:" + intent.AgentID
	agentAllowed, agentCount := l.windowFor(agentKey).checkAndMaybeRecord(now, agentLimit, false)

	toolLimit := l.limitForActionType(intent.ActionType)
	toolKey := "agent:" + intent.AgentID + ":tool:" + intent.ActionType
	toolAllowed, toolCount := l.windowFor(toolKey).checkAndMaybeRecord(now, toolLimit, false)

	if !agentAllowed || !toolAllowed {
		breached, count, limit := "agent", agentCount, agentLimit
		if !toolAllowed {
			breached, count, limit = "tool", toolCount, toolLimit
		}
		return core.EvaluatorResult{
			Verdict: core.VerdictBlock,
			Reason: fmt.Sprintf("Rate limit exceeded for %s: %d calls in the last %ds (limit %d per %ds)",
				breached, count, int(limit.Window.Seconds()), limit.Count, int(limit.Window.Seconds())),
			Confidence:    1.0,
			EvaluatorName: l.Name(),
			Metadata: map[string]any{
				"limit_breached": breached,
				"agent_count":    agentCount,
				"tool_count":     toolCount,
				"limit":          limit.String(),
			},
		}, nil
	}

	// Record the call against both windows now that it is known to be
	// allowed by both; downstream evaluators may still block it for other
	// reasons, which is an accepted approximation (see RateLimiter).
	l.windowFor(agentKey).checkAndMaybeRecord(now, agentLimit, true)
	l.windowFor(toolKey).checkAndMaybeRecord(now, toolLimit, true)

	return core.EvaluatorResult{
		Verdict:       core.VerdictAllow,
		Reason:        "Within rate limits",
		Confidence:    1.0,
		EvaluatorName: l.Name(),
	}, nil
}

// CountInWindow returns how many recorded calls fall inside the window
// for an (agent, action type) key. Exposed for tests and dashboards.
func (l *RateLimiter) CountInWindow(agentID, actionType string, window time.Duration) int {
	key := "agent:" + agentID + ":tool:" + actionType
	w := l.windowFor(key)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(time.Now(), window)
	return len(w.times)
}
