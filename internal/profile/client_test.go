package profile

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/notifyd/notifyd/internal/errors"
)

func TestClient_ResolveSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"data": {
				"id": "usr-1",
				"email": "ada@example.com",
				"name": "Ada",
				"push_token": "tok-123",
				"preference": {"email": true, "push": false}
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), time.Second, slog.Default())

	prof, err := c.Resolve(context.Background(), "usr-1")
	require.NoError(t, err)
	assert.Equal(t, "/users/usr-1", gotPath)
	assert.Equal(t, "usr-1", prof.ID)
	assert.Equal(t, "ada@example.com", prof.Email)
	assert.Equal(t, "tok-123", prof.PushToken)
	assert.True(t, prof.Preferences.Email)
	assert.False(t, prof.Preferences.Push)
}

func TestClient_ResolveUnknownUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"success": false, "message": "user not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), time.Second, slog.Default())

	_, err := c.Resolve(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, appErr.IsNotFound(err))
	assert.False(t, appErr.IsDependencyDown(err), "business not-found must not classify as dependency failure")
}

func TestClient_ResolveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), time.Second, slog.Default())

	_, err := c.Resolve(context.Background(), "usr-1")
	require.Error(t, err)
	assert.True(t, appErr.IsDependencyDown(err))
}

func TestClient_ResolveMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": tru`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), time.Second, slog.Default())

	_, err := c.Resolve(context.Background(), "usr-1")
	require.Error(t, err)
	assert.True(t, appErr.IsDependencyDown(err))
}

func TestClient_ResolveEnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "data": {}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), time.Second, slog.Default())

	_, err := c.Resolve(context.Background(), "usr-1")
	require.Error(t, err)
	assert.True(t, appErr.IsDependencyDown(err))
}

func TestClient_ResolveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), 20*time.Millisecond, slog.Default())

	_, err := c.Resolve(context.Background(), "usr-1")
	require.Error(t, err)
	assert.True(t, appErr.IsDependencyDown(err))
	assert.ErrorContains(t, err, "timed out")
}

func TestClient_ResolveConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, nil, time.Second, slog.Default())

	_, err := c.Resolve(context.Background(), "usr-1")
	require.Error(t, err)
	assert.True(t, appErr.IsDependencyDown(err))
}
