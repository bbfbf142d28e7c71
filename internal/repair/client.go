// Package repair asks an external code-generation service to fix a broken
// grammar source, behind a circuit breaker and a bounded retry budget.
//
// Failing to obtain a patch is an expected outcome, so Client.Repair never
// returns an error: callers only learn whether a patch came back.
package repair

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/dedent"
	"go.uber.org/zap"

	"gramforge/internal/logging"
)

// DefaultMaxAttempts is the attempt budget the healer uses.
const DefaultMaxAttempts = 3

var promptTemplate = strings.TrimSpace(dedent.Dedent(`
	You are repairing a Grammatical Framework (GF) concrete syntax module that fails to compile.

	Compiler diagnostic:
	%s

	Broken source:
	%s

	Return ONLY the complete corrected source of the module. Do not include explanations, prose or markdown code fences.
	`))

// BuildPrompt renders the fixed repair instruction.
func BuildPrompt(source, diagnostic string) string {
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(diagnostic), source)
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Client is the resilient repair client. One instance is shared by the
// whole process so the breaker sees every call.
type Client struct {
	gen     Generator
	breaker *Breaker
	base    time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	log     *zap.Logger
}

// NewClient creates a client. A nil generator yields a client that never
// patches (repair disabled).
func NewClient(gen Generator, breaker *Breaker, baseDelay time.Duration, log *zap.Logger) *Client {
	if breaker == nil {
		breaker = NewBreaker(5, time.Minute, nil)
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	return &Client{
		gen:     gen,
		breaker: breaker,
		base:    baseDelay,
		sleep:   sleepCtx,
		log:     logging.For(log, logging.CategoryRepair),
	}
}

// Breaker exposes the client's breaker.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Enabled reports whether a generator is configured.
func (c *Client) Enabled() bool { return c != nil && c.gen != nil }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Repair asks for a patched version of source. It returns the cleaned
// patch and true, or "" and false when the breaker is open, the budget is
// exhausted, or ctx ends.
func (c *Client) Repair(ctx context.Context, source, diagnostic string, maxAttempts int) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	prompt := BuildPrompt(source, diagnostic)

	for i := 0; i < maxAttempts; i++ {
		if err := c.breaker.Allow(); err != nil {
			c.log.Warn("repair skipped", zap.Error(err), zap.Int("attempt", i+1))
			return "", false
		}

		text, err := c.attempt(ctx, prompt)
		if err == nil {
			if patch := StripFences(text); patch != "" {
				c.breaker.Success()
				c.log.Info("repair produced patch", zap.Int("attempt", i+1), zap.Int("bytes", len(patch)))
				return patch, true
			}
			err = ErrEmptyResponse
		}
		if ctx.Err() != nil {
			c.breaker.Release()
			return "", false
		}

		c.breaker.Failure()
		c.log.Warn("repair attempt failed",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxAttempts),
			zap.String("breaker", string(c.breaker.State())),
			zap.Error(err))

		if i == maxAttempts-1 || c.breaker.State() == StateOpen {
			break
		}
		if err := c.sleep(ctx, c.base*time.Duration(1<<i)); err != nil {
			return "", false
		}
	}
	return "", false
}

type attemptResult struct {
	text string
	err  error
}

// attempt runs one generator call on its own goroutine so the caller can
// abandon it when ctx ends.
func (c *Client) attempt(ctx context.Context, prompt string) (string, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("repair: generator panic: %v", r)}
			}
		}()
		text, err := c.gen.Generate(actx, prompt)
		done <- attemptResult{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
