package repair

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Generator is the external code-repair service: one prompt in, one
// response text out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Middleware decorates a Generator.
type Middleware func(Generator) Generator

// Wrap applies middlewares in left-to-right order:
// Wrap(g, A, B) == A(B(g)).
func Wrap(inner Generator, mws ...Middleware) Generator {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// WithLogging logs every call's size, latency and error at debug level,
// and errors at warn.
func WithLogging(log *zap.Logger) Middleware {
	return func(next Generator) Generator {
		return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
			start := time.Now()
			out, err := next.Generate(ctx, prompt)
			fields := []zap.Field{
				zap.Int("prompt_bytes", len(prompt)),
				zap.Int("response_bytes", len(out)),
				zap.Duration("elapsed", time.Since(start)),
			}
			if err != nil {
				log.Warn("repair request failed", append(fields, zap.Error(err))...)
				return out, err
			}
			log.Debug("repair request", fields...)
			return out, nil
		})
	}
}
