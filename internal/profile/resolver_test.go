package profile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyd/notifyd/internal/breaker"
	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/model"
)

type fakeProfileClient struct {
	profile *model.UserProfile
	err     error
	calls   int
}

func (f *fakeProfileClient) Resolve(ctx context.Context, userID string) (*model.UserProfile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

func newTestResolver(client Client) *Resolver {
	cb := breaker.New(breaker.Config{
		Name:         "profile",
		Window:       time.Minute,
		MinSamples:   2,
		FailureRatio: 0.5,
		Cooldown:     time.Minute,
		IsFailure:    IsBreakerFailure,
	}, slog.Default())
	return NewResolver(client, cb, slog.Default())
}

func TestResolver_Success(t *testing.T) {
	client := &fakeProfileClient{profile: &model.UserProfile{ID: "usr-1", Email: "ada@example.com"}}
	r := newTestResolver(client)

	prof, err := r.Resolve(context.Background(), "usr-1")
	require.NoError(t, err)
	assert.Equal(t, "usr-1", prof.ID)
	assert.Equal(t, 1, client.calls)
}

func TestResolver_NotFoundPassesThrough(t *testing.T) {
	client := &fakeProfileClient{err: appErr.NewNotFound("user ghost unknown to profile service")}
	r := newTestResolver(client)

	// Well past MinSamples: business not-founds must never trip the breaker.
	for i := 0; i < 5; i++ {
		_, err := r.Resolve(context.Background(), "ghost")
		require.Error(t, err)
		assert.True(t, appErr.IsNotFound(err))
		assert.False(t, IsDeferred(err))
	}
	assert.Equal(t, 5, client.calls, "breaker should keep admitting calls")
}

func TestResolver_DependencyFailureDefers(t *testing.T) {
	client := &fakeProfileClient{err: appErr.NewDependencyDown("profile service returned HTTP 503")}
	r := newTestResolver(client)

	_, err := r.Resolve(context.Background(), "usr-1")
	require.Error(t, err)
	assert.True(t, IsDeferred(err))
	assert.Equal(t, 1, client.calls)
}

func TestResolver_OpenBreakerShortCircuits(t *testing.T) {
	client := &fakeProfileClient{err: appErr.NewDependencyDown("connection refused")}
	r := newTestResolver(client)

	// Two failures trip the breaker (MinSamples 2, ratio 0.5).
	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), "usr-1")
		require.True(t, IsDeferred(err))
	}
	require.Equal(t, 2, client.calls)

	// Open breaker: deferred without touching the client.
	_, err := r.Resolve(context.Background(), "usr-1")
	require.True(t, IsDeferred(err))
	assert.Equal(t, 2, client.calls, "client must not be invoked while the breaker is open")
}
