package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

type countingAnalyzer struct {
	RuleAnalyzer
	calls   atomic.Int32
	delay   time.Duration
	err     error
	release chan struct{}
}

func (c *countingAnalyzer) AnalyzeIntent(ctx context.Context, req *Request) (*IntentResult, error) {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &IntentResult{Understood: "u:" + req.UserMessage, Confidence: 0.8}, nil
}

func (c *countingAnalyzer) SynthesizeDecision(context.Context, *Request) (*DecisionResult, error) {
	c.calls.Add(1)
	return &DecisionResult{Action: "proceed"}, nil
}

type recorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorder) observe(_, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func TestGuarded_CacheHit(t *testing.T) {
	inner := &countingAnalyzer{}
	rec := &recorder{}
	g := NewGuarded(inner, GuardedConfig{Cache: NewMemoryCache(time.Minute), Observer: rec.observe})

	req := &Request{UserMessage: "hello", ToolName: "read_file"}
	first, err := g.AnalyzeIntent(context.Background(), req)
	require.NoError(t, err)
	second, err := g.AnalyzeIntent(context.Background(), &Request{UserMessage: "hello", ToolName: "read_file"})
	require.NoError(t, err)

	assert.Equal(t, first.Understood, second.Understood)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, []string{"ok", "cache_hit"}, rec.outcomes)
}

func TestGuarded_DifferentParamsMiss(t *testing.T) {
	inner := &countingAnalyzer{}
	g := NewGuarded(inner, GuardedConfig{Cache: NewMemoryCache(time.Minute)})

	_, _ = g.AnalyzeIntent(context.Background(), &Request{UserMessage: "x", ToolParams: map[string]any{"path": "a"}})
	_, _ = g.AnalyzeIntent(context.Background(), &Request{UserMessage: "x", ToolParams: map[string]any{"path": "b"}})
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestGuarded_DifferentHistoryMiss(t *testing.T) {
	inner := &countingAnalyzer{}
	g := NewGuarded(inner, GuardedConfig{Cache: NewMemoryCache(time.Minute)})
	ctx := context.Background()
	say := func(text string) []engine.SessionEvent {
		return []engine.SessionEvent{{Kind: engine.EventUserMessage, Text: text, Timestamp: time.Now()}}
	}

	_, _ = g.AnalyzeIntent(ctx, &Request{UserMessage: "发出去", ToolName: "send_email", SessionHistory: say("读一下 notes.txt")})
	_, _ = g.AnalyzeIntent(ctx, &Request{UserMessage: "发出去", ToolName: "send_email", SessionHistory: say("读一下 passwords.txt")})
	assert.Equal(t, int32(2), inner.calls.Load(), "same text in another conversation must not reuse the result")

	_, _ = g.AnalyzeIntent(ctx, &Request{UserMessage: "发出去", ToolName: "send_email", SessionHistory: say("读一下 notes.txt")})
	assert.Equal(t, int32(2), inner.calls.Load(), "same conversation replayed later still hits")
}

func TestGuarded_DecisionNeverCached(t *testing.T) {
	inner := &countingAnalyzer{}
	g := NewGuarded(inner, GuardedConfig{Cache: NewMemoryCache(time.Minute)})
	for i := 0; i < 3; i++ {
		_, err := g.SynthesizeDecision(context.Background(), &Request{UserMessage: "same"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestGuarded_SingleflightDedupes(t *testing.T) {
	inner := &countingAnalyzer{release: make(chan struct{})}
	g := NewGuarded(inner, GuardedConfig{Cache: NewMemoryCache(time.Minute)})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.AnalyzeIntent(context.Background(), &Request{UserMessage: "concurrent"})
		}()
	}
	// Let the goroutines pile up on the in-flight call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.LessOrEqual(t, inner.calls.Load(), int32(2))
}

func TestGuarded_RateLimited(t *testing.T) {
	inner := &countingAnalyzer{}
	rec := &recorder{}
	g := NewGuarded(inner, GuardedConfig{RatePerSecond: 0.001, Burst: 1, Observer: rec.observe})

	_, err := g.AnalyzeIntent(context.Background(), &Request{UserMessage: "a"})
	require.NoError(t, err)
	_, err = g.AnalyzeIntent(context.Background(), &Request{UserMessage: "b"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, []string{"ok", "rate_limited"}, rec.outcomes)
}

func TestGuarded_Timeout(t *testing.T) {
	inner := &countingAnalyzer{delay: time.Second}
	g := NewGuarded(inner, GuardedConfig{Timeout: 20 * time.Millisecond})

	_, err := g.AnalyzeIntent(context.Background(), &Request{UserMessage: "slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuarded_Errors(t *testing.T) {
	rec := &recorder{}
	g := NewGuarded(&countingAnalyzer{err: errors.New("boom")}, GuardedConfig{Observer: rec.observe})
	_, err := g.AnalyzeIntent(context.Background(), &Request{})
	assert.EqualError(t, err, "boom")

	g = NewGuarded(NewRuleAnalyzer(), GuardedConfig{Observer: rec.observe})
	_, err = g.AnalyzeConsequence(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrNoBackend)

	assert.Equal(t, []string{"error", "unavailable"}, rec.outcomes)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(20 * time.Millisecond)
	c.Set("k", []byte("v"))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestBadgerCache_InMemory(t *testing.T) {
	c, err := OpenBadgerCache("", time.Minute)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", []byte(`{"understood":"x"}`))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `{"understood":"x"}`, string(got))
}

func TestBadgerCache_BacksGuarded(t *testing.T) {
	c, err := OpenBadgerCache(t.TempDir(), time.Minute)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	inner := &countingAnalyzer{}
	g := NewGuarded(inner, GuardedConfig{Cache: c})
	for i := 0; i < 2; i++ {
		_, err := g.AnalyzeIntent(context.Background(), &Request{UserMessage: "persist"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), inner.calls.Load())
}
