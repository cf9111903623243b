package ai

import (
	"context"
	"errors"
	"time"

	apperrors "chatflow/internal/errors"
	"chatflow/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

// Guarded puts a circuit breaker and a per-call timeout in front of a
// provider. Only transport failures, 5xx and throttling count as failures.
type Guarded struct {
	inner   Provider
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	logger  *logrus.Logger
}

func NewGuarded(inner Provider, breaker *circuitbreaker.CircuitBreaker, timeout time.Duration, logger *logrus.Logger) *Guarded {
	breaker.Counts = apperrors.IsRetryable
	if logger == nil {
		logger = logrus.New()
	}
	return &Guarded{inner: inner, breaker: breaker, timeout: timeout, logger: logger}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Complete(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	err := g.run(ctx, "complete", func(ctx context.Context) error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	})
	return resp, err
}

func (g *Guarded) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	gen, ok := g.inner.(ImageGenerator)
	if !ok {
		return nil, ErrUnsupported
	}
	var img []byte
	err := g.run(ctx, "generate_image", func(ctx context.Context) error {
		var err error
		img, err = gen.GenerateImage(ctx, prompt)
		return err
	})
	return img, err
}

func (g *Guarded) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	tr, ok := g.inner.(Transcriber)
	if !ok {
		return "", ErrUnsupported
	}
	var text string
	err := g.run(ctx, "transcribe", func(ctx context.Context) error {
		var err error
		text, err = tr.Transcribe(ctx, audio, mimeType)
		return err
	})
	return text, err
}

func (g *Guarded) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	err := g.breaker.Execute(ctx, fn)
	fields := logrus.Fields{
		"provider":    g.inner.Name(),
		"operation":   op,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	switch {
	case err == nil:
		g.logger.WithFields(fields).Debug("AI call completed")
	case circuitbreaker.IsOpen(err):
		g.logger.WithFields(fields).Warn("AI call rejected by open circuit breaker")
		return apperrors.Wrap(err, apperrors.ErrCodeCircuitOpen, "ai provider unavailable")
	case errors.Is(err, ErrUnsupported):
	default:
		g.logger.WithFields(fields).WithError(err).Warn("AI call failed")
	}
	return err
}
