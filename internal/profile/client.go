package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	appErr "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/metrics"
	"github.com/notifyd/notifyd/internal/model"
)

// Client resolves user profiles from the external user-profile service.
type Client interface {
	Resolve(ctx context.Context, userID string) (*model.UserProfile, error)
}

// envelope is the profile service's response wrapper.
type envelope struct {
	Success bool              `json:"success"`
	Data    model.UserProfile `json:"data"`
}

type httpClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewClient builds an HTTP-backed profile client. timeout is the single
// per-call deadline applied to every resolution.
func NewClient(baseURL string, client *http.Client, timeout time.Duration, log *slog.Logger) Client {
	if client == nil {
		client = &http.Client{}
	}
	return &httpClient{
		baseURL: baseURL,
		client:  client,
		timeout: timeout,
		log:     log.With("component", "profileClient"),
	}
}

// Resolve fetches GET /users/{id}. An unknown id is a business not-found; a
// 5xx, timeout, connection error, or malformed body is a dependency failure
// that the circuit breaker accounts for.
func (c *httpClient) Resolve(ctx context.Context, userID string) (*model.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, appErr.NewDependencyDown("build profile request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.DependencyLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DependencyRequests.WithLabelValues("failure").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn("Profile call timed out", slog.String("user_id", userID))
			return nil, appErr.NewDependencyDown("profile call timed out after %s", c.timeout)
		}
		c.log.Warn("Profile call failed", slog.String("user_id", userID), slog.Any("error", err))
		return nil, appErr.NewDependencyDown("profile call failed: %v", err)
	}
	defer func() {
		// Drain and close body to reuse connections.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.DependencyRequests.WithLabelValues("not_found").Inc()
		return nil, appErr.NewNotFound("user %s unknown to profile service", userID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		metrics.DependencyRequests.WithLabelValues("failure").Inc()
		c.log.Warn("Profile service returned error status",
			slog.String("user_id", userID),
			slog.Int("status", resp.StatusCode))
		return nil, appErr.NewDependencyDown("profile service returned HTTP %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		metrics.DependencyRequests.WithLabelValues("failure").Inc()
		return nil, appErr.NewDependencyDown("decode profile response: %v", err)
	}
	if !env.Success {
		metrics.DependencyRequests.WithLabelValues("failure").Inc()
		return nil, appErr.NewDependencyDown("profile service reported success=false for user %s", userID)
	}

	metrics.DependencyRequests.WithLabelValues("success").Inc()
	return &env.Data, nil
}
