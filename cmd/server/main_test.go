package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fructosahel/backend/internal/config"
	"fructosahel/backend/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, mr *miniredis.Miniredis) *config.Config {
	t.Helper()
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", ":memory:")
	t.Setenv("REDIS_HOST", mr.Host())
	t.Setenv("REDIS_PORT", mr.Port())
	t.Setenv("CRON_SECRET", "integration-secret")
	t.Setenv("CRON_ENABLED", "true")
	t.Setenv("NOTIFY_DEDUP_ENABLED", "true")
	t.Setenv("ADMIN_EMAILS", "chef@example.com")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	return cfg
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestApplicationWiring(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)

	a, err := newApp(cfg, logger.Discard())
	require.NoError(t, err)
	defer a.close(context.Background())

	require.NotNil(t, a.worker)
	require.NotNil(t, a.scheduler)
	assert.Len(t, a.scheduler.Entries(), 3)

	w := doJSON(t, a.router, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, a.router, http.MethodPost, "/api/auth/dev-token", map[string]string{"email": "awa@example.com"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var token struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))

	other := doJSON(t, a.router, http.MethodPost, "/api/auth/dev-token", map[string]string{"email": "moussa@example.com"}, "")
	require.Equal(t, http.StatusOK, other.Code)
	var otherToken struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(other.Body.Bytes(), &otherToken))

	// assigning to someone else queues a notification job instead of sending inline
	w = doJSON(t, a.router, http.MethodPost, "/api/tasks", map[string]interface{}{
		"title":       "Tailler les anacardiers",
		"assigned_to": otherToken.User.ID,
	}, token.AccessToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	queued, err := mr.List(cfg.Worker.Queue)
	require.NoError(t, err)
	assert.Len(t, queued, 1)

	w = doJSON(t, a.router, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var metrics struct {
		Components struct {
			Queue struct {
				Ready int `json:"ready"`
			} `json:"notification_queue"`
			Breaker map[string]interface{} `json:"webpush_breaker"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.Equal(t, 1, metrics.Components.Queue.Ready)
	assert.Equal(t, "closed", metrics.Components.Breaker["state"])

	// only the creator, the assignee or an admin can see the task
	stranger := doJSON(t, a.router, http.MethodPost, "/api/auth/dev-token", map[string]string{"email": "ali@example.com"}, "")
	require.NoError(t, json.Unmarshal(stranger.Body.Bytes(), &token))
	w = doJSON(t, a.router, http.MethodGet, "/api/tasks/"+created.ID, nil, token.AccessToken)
	assert.Equal(t, http.StatusNotFound, w.Code)

	chef := doJSON(t, a.router, http.MethodPost, "/api/auth/dev-token", map[string]string{"email": "chef@example.com"}, "")
	require.NoError(t, json.Unmarshal(chef.Body.Bytes(), &token))
	w = doJSON(t, a.router, http.MethodGet, "/api/tasks/"+created.ID, nil, token.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, a.router, http.MethodPost, "/api/notifications/cron?job=all", nil, "integration-secret")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary struct {
		Results map[string]interface{} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Len(t, summary.Results, 3)

	w = doJSON(t, a.router, http.MethodPost, "/api/notifications/cron", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	_, err := config.LoadConfig()
	assert.Error(t, err)
}
