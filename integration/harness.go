package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/relationd/api"
	"github.com/kasuganosora/relationd/audit"
	"github.com/kasuganosora/relationd/cache"
	"github.com/kasuganosora/relationd/config"
	"github.com/kasuganosora/relationd/effects"
	"github.com/kasuganosora/relationd/relation"
	"github.com/kasuganosora/relationd/scheduler"
	"github.com/kasuganosora/relationd/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminKey is the X-Admin-Key accepted by the test server.
const AdminKey = "integration-admin-key"

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB         *gorm.DB
	Cache      cache.Cache
	Dispatcher *effects.Dispatcher
	Audit      *audit.Service
	Scheduler  *scheduler.Scheduler
	Server     *httptest.Server
	URL        string // http://127.0.0.1:<port>
	Config     *config.Config
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	cfg := &config.Config{
		Server: config.ServerConfig{AdminKey: AdminKey},
		Security: config.SecurityConfig{
			JWTSecret:      "integration-test-secret",
			JWTTTLH:        72 * time.Hour,
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
		},
		Relation: config.RelationConfig{StoreTimeout: 2 * time.Second},
		Effects:  config.EffectsConfig{Workers: 2, QueueSize: 64, TaskTimeout: 2 * time.Second},
		Metrics:  config.MetricsConfig{Enabled: true},
	}

	auditSvc := audit.New(db, logger)
	disp := effects.New(effects.Config{
		Workers:     cfg.Effects.Workers,
		QueueSize:   cfg.Effects.QueueSize,
		TaskTimeout: cfg.Effects.TaskTimeout,
	}, logger)
	sched := scheduler.New(logger)
	relations := relation.NewService(relation.NewGormStore(db), disp, cfg.Relation.StoreTimeout, logger)

	r := api.NewRouter(api.Deps{
		Config:    cfg,
		DB:        db,
		Cache:     c,
		Relations: relations,
		Audit:     auditSvc,
		Scheduler: sched,
		Logger:    logger,
	})

	server := httptest.NewServer(r)
	return &TestServer{
		DB:         db,
		Cache:      c,
		Dispatcher: disp,
		Audit:      auditSvc,
		Scheduler:  sched,
		Server:     server,
		URL:        server.URL,
		Config:     cfg,
	}
}

// Close shuts down the HTTP server and drains background workers.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts.Scheduler.Stop()
	ts.Dispatcher.Stop(ctx)
	ts.Audit.Stop(ctx)
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body, Bearer token and extra
// header pairs.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, token string, headers ...string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodGet, path, nil, token)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth helpers ---

// Login logs in (auto-registers on first call) and returns the token and user ID.
func (ts *TestServer) Login(t *testing.T, username, password string) (token, userID string) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	return result["token"].(string), result["user_id"].(string)
}

// --- Relationship helpers ---

// Act posts one relationship action and returns the status code and
// decoded body.
func (ts *TestServer) Act(t *testing.T, token, targetID, action string) (int, map[string]interface{}) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/relationships", map[string]string{
		"target_user_id": targetID,
		"action":         action,
	}, token)
	var body map[string]interface{}
	ReadJSON(t, resp, &body)
	return resp.StatusCode, body
}

// PairStatus returns the pair state reported by the status endpoint.
func (ts *TestServer) PairStatus(t *testing.T, token, otherID string) string {
	t.Helper()
	resp := ts.Get(t, "/api/relationships/status/"+otherID, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	ReadJSON(t, resp, &body)
	return body["status"].(string)
}

// WaitEffects blocks until the condition holds or the deadline passes.
// Side effects run asynchronously so their results are polled.
func WaitEffects(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}

var uidCounter int64

// UniqueID returns a unique username with the given prefix.
func UniqueID(prefix string) string {
	n := atomic.AddInt64(&uidCounter, 1)
	return fmt.Sprintf("%s_%s_%d", prefix, gofakeit.Numerify("#####"), n)
}
