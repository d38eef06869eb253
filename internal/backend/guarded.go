package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

// ErrRateLimited is returned when the backend call budget is exhausted.
var ErrRateLimited = errors.New("backend: rate limited")

// Observer receives one sample per backend call. outcome is one of
// "ok", "cache_hit", "error", "rate_limited", "unavailable".
type Observer func(op, outcome string, elapsed time.Duration)

// Guarded wraps an Analyzer with a per-call timeout, a result cache,
// request deduplication and a rate limit.
type Guarded struct {
	inner   Analyzer
	cache   ResultCache // nil = no caching
	limiter *rate.Limiter
	group   singleflight.Group
	timeout time.Duration
	observe Observer
	logger  *zap.Logger
}

// GuardedConfig configures Guarded. Zero RatePerSecond disables rate limiting.
type GuardedConfig struct {
	Cache         ResultCache
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Observer      Observer
	Logger        *zap.Logger
}

// NewGuarded wraps inner.
func NewGuarded(inner Analyzer, cfg GuardedConfig) *Guarded {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	observe := cfg.Observer
	if observe == nil {
		observe = func(string, string, time.Duration) {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guarded{
		inner:   inner,
		cache:   cfg.Cache,
		limiter: limiter,
		timeout: timeout,
		observe: observe,
		logger:  logger,
	}
}

func (g *Guarded) AnalyzeIntent(ctx context.Context, req *Request) (*IntentResult, error) {
	return guardedCall(ctx, g, "intent", req, true, g.inner.AnalyzeIntent)
}

func (g *Guarded) AnalyzeConsequence(ctx context.Context, req *Request) (*ConsequenceResult, error) {
	return guardedCall(ctx, g, "consequence", req, true, g.inner.AnalyzeConsequence)
}

// SynthesizeDecision is never cached: its request embeds a per-call assessment.
func (g *Guarded) SynthesizeDecision(ctx context.Context, req *Request) (*DecisionResult, error) {
	return guardedCall(ctx, g, "decision", req, false, g.inner.SynthesizeDecision)
}

func (g *Guarded) ExtractConstraints(ctx context.Context, req *Request) (*ConstraintResult, error) {
	return guardedCall(ctx, g, "constraints", req, true, g.inner.ExtractConstraints)
}

func guardedCall[T any](ctx context.Context, g *Guarded, op string, req *Request, cacheable bool,
	call func(context.Context, *Request) (*T, error)) (*T, error) {

	start := time.Now()
	key := ""
	if cacheable && g.cache != nil {
		var err error
		key, err = cacheKey(op, req)
		if err == nil {
			if b, ok := g.cache.Get(key); ok {
				var out T
				if json.Unmarshal(b, &out) == nil {
					g.observe(op, "cache_hit", time.Since(start))
					return &out, nil
				}
			}
		}
	}

	do := func() (any, error) {
		if !g.limiter.Allow() {
			return nil, ErrRateLimited
		}
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return call(callCtx, req)
	}

	var (
		v   any
		err error
	)
	if key != "" {
		v, err, _ = g.group.Do(key, do)
	} else {
		v, err = do()
	}

	switch {
	case errors.Is(err, ErrNoBackend):
		g.observe(op, "unavailable", time.Since(start))
		return nil, err
	case errors.Is(err, ErrRateLimited):
		g.observe(op, "rate_limited", time.Since(start))
		return nil, err
	case err != nil:
		g.observe(op, "error", time.Since(start))
		return nil, err
	}

	out, ok := v.(*T)
	if !ok || out == nil {
		g.observe(op, "error", time.Since(start))
		return nil, fmt.Errorf("%w: empty %s result", ErrInvalidOutput, op)
	}
	g.observe(op, "ok", time.Since(start))

	if key != "" {
		if b, err := json.Marshal(out); err == nil {
			g.cache.Set(key, b)
		} else {
			g.logger.Debug("backend result not cached", zap.String("op", op), zap.Error(err))
		}
	}
	return out, nil
}

// historyEntry is the part of a SessionEvent that reaches the backend prompt.
// Timestamps are left out so a replayed conversation still hits.
type historyEntry struct {
	Kind   engine.EventKind `json:"k"`
	Text   string           `json:"x,omitempty"`
	Tool   string           `json:"t,omitempty"`
	Params map[string]any   `json:"p,omitempty"`
	Result string           `json:"r,omitempty"`
}

// cacheKey covers the message, the call and the history window sent with it.
func cacheKey(op string, req *Request) (string, error) {
	history := make([]historyEntry, len(req.SessionHistory))
	for i, ev := range req.SessionHistory {
		history[i] = historyEntry{ev.Kind, ev.Text, ev.ToolName, ev.Params, ev.Result}
	}
	b, err := json.Marshal(struct {
		Message string         `json:"m"`
		Tool    string         `json:"t"`
		Params  map[string]any `json:"p"`
		History []historyEntry `json:"h"`
	}{req.UserMessage, req.ToolName, req.ToolParams, history})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return op + ":" + hex.EncodeToString(sum[:]), nil
}
