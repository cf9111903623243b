package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "chatflow/internal/errors"
	"chatflow/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name  string
	calls int
	err   error
	resp  *Response
	delay time.Duration
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, _ *Request) (*Response, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.resp, f.err
}

type fakeImageProvider struct {
	fakeProvider
	img []byte
}

func (f *fakeImageProvider) GenerateImage(context.Context, string) ([]byte, error) {
	return f.img, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestGuarded_OpensOnRetryableFailures(t *testing.T) {
	inner := &fakeProvider{name: "fake", err: apperrors.NewAPIError("ai", "x", 503, errors.New("down"))}
	g := NewGuarded(inner, circuitbreaker.New("ai", 2, time.Minute, quietLogger()), 0, quietLogger())

	for i := 0; i < 2; i++ {
		_, err := g.Complete(context.Background(), &Request{})
		require.Error(t, err)
	}
	_, err := g.Complete(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCircuitOpen, apperrors.GetCode(err))
	assert.Equal(t, 2, inner.calls)
}

func TestGuarded_ClientErrorsDoNotOpen(t *testing.T) {
	inner := &fakeProvider{name: "fake", err: apperrors.NewAPIError("ai", "x", 400, errors.New("bad"))}
	g := NewGuarded(inner, circuitbreaker.New("ai", 1, time.Minute, quietLogger()), 0, quietLogger())

	for i := 0; i < 3; i++ {
		_, err := g.Complete(context.Background(), &Request{})
		assert.Equal(t, apperrors.ErrCodeAIProvider, apperrors.GetCode(err))
	}
	assert.Equal(t, 3, inner.calls)
}

func TestGuarded_Timeout(t *testing.T) {
	inner := &fakeProvider{name: "slow", delay: time.Second}
	g := NewGuarded(inner, circuitbreaker.New("ai", 5, time.Minute, quietLogger()), 20*time.Millisecond, quietLogger())

	_, err := g.Complete(context.Background(), &Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuarded_OptionalCapabilities(t *testing.T) {
	plain := NewGuarded(&fakeProvider{name: "plain"}, circuitbreaker.New("ai", 5, time.Minute, quietLogger()), 0, quietLogger())
	_, err := plain.GenerateImage(context.Background(), "猫")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = plain.Transcribe(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrUnsupported)

	withImages := NewGuarded(&fakeImageProvider{fakeProvider: fakeProvider{name: "img"}, img: []byte("png")},
		circuitbreaker.New("ai", 5, time.Minute, quietLogger()), 0, quietLogger())
	img, err := withImages.GenerateImage(context.Background(), "猫")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), img)
}
