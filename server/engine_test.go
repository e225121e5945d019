package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"clubsched/api/routes"
	"clubsched/internal/notifications"
	"clubsched/internal/shared/config"
	"clubsched/internal/shared/database"
	"clubsched/internal/shared/metrics"
	"clubsched/internal/shared/middleware"
	"clubsched/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnvelope struct {
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	engine *engine
	tenant uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Load()
	cfg.StoreBackend = "memory"
	cfg.Lock.Backend = "local"
	cfg.Kafka.Enabled = false
	cfg.Audit.Enabled = true
	cfg.Audit.Schedule = "@every 1h"

	log := logger.Discard()
	m := metrics.New(prometheus.NewRegistry())
	db := &database.DB{}

	eng, err := buildEngine(cfg, db, m, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, eng.start(ctx))
	t.Cleanup(func() {
		eng.stop()
		cancel()
	})

	return &testServer{
		t:      t,
		router: setupRouter(log, nil, routes.NewRouter(cfg, db, m, eng.handlers(), eng.jobs())),
		engine: eng,
		tenant: uuid.New(),
	}
}

func (s *testServer) do(method, path string, body interface{}) (*httptest.ResponseRecorder, apiEnvelope) {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.TenantHeader, s.tenant.String())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env apiEnvelope
	if w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func (s *testServer) session(id string) map[string]interface{} {
	s.t.Helper()
	w, env := s.do(http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var out map[string]interface{}
	require.NoError(s.t, json.Unmarshal(env.Data, &out))
	return out
}

func TestCancelOfferAcceptThroughHTTP(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/v1/admin/sessions", map[string]interface{}{
		"name":      "Thursday beginners",
		"starts_at": time.Now().Add(72 * time.Hour).Format(time.RFC3339),
		"capacity":  1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))

	bookPath := "/api/v1/sessions/" + created.ID + "/bookings"
	w, env = s.do(http.MethodPost, bookPath, map[string]string{"participant_id": uuid.NewString()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var confirmed struct {
		Booking struct {
			ID string `json:"id"`
		} `json:"booking"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &confirmed))

	w, env = s.do(http.MethodPost, bookPath, map[string]string{"participant_id": uuid.NewString()})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var queued struct {
		Entry struct {
			ID       string `json:"id"`
			Position int    `json:"position"`
		} `json:"waitlist_entry"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &queued))
	assert.Equal(t, 1, queued.Entry.Position)

	w, _ = s.do(http.MethodDelete, "/api/v1/bookings/"+confirmed.Booking.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The freed seat is held for the head of the line.
	state := s.session(created.ID)
	assert.Equal(t, float64(0), state["confirmed_count"])
	assert.Equal(t, float64(1), state["held_count"])

	w, _ = s.do(http.MethodPost, "/api/v1/waitlist/"+queued.Entry.ID+"/accept", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	state = s.session(created.ID)
	assert.Equal(t, float64(1), state["confirmed_count"])
	assert.Equal(t, float64(0), state["held_count"])

	report, err := s.engine.auditor.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Violations)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Jobs map[string]map[string]interface{} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "running", status.Jobs["offer_expiry"]["status"])
	assert.Equal(t, "running", status.Jobs["invariant_audit"]["status"])

	w, _ = s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestBuildEngineRejectsMissingBackends(t *testing.T) {
	log := logger.Discard()

	cfg := config.Load()
	cfg.StoreBackend = "postgres"
	_, err := buildEngine(cfg, &database.DB{}, nil, log)
	assert.Error(t, err)

	cfg = config.Load()
	cfg.Lock.Backend = "redis"
	_, err = buildEngine(cfg, &database.DB{}, nil, log)
	assert.Error(t, err)

	cfg = config.Load()
	cfg.Engine.ExpiryPolicy = "forget"
	_, err = buildEngine(cfg, &database.DB{}, nil, log)
	assert.Error(t, err)
}

type countingPublisher struct {
	mu        sync.Mutex
	published int
}

func (p *countingPublisher) Publish(ctx context.Context, n *notifications.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published++
	return nil
}

func (p *countingPublisher) Close() error { return nil }

func TestStopDrainsNotificationsAfterShutdownSignal(t *testing.T) {
	cfg := config.Load()
	cfg.StoreBackend = "memory"
	cfg.Lock.Backend = "local"
	cfg.Kafka.Enabled = false
	cfg.Audit.Enabled = false
	log := logger.Discard()

	eng, err := buildEngine(cfg, &database.DB{}, nil, log)
	require.NoError(t, err)
	pub := &countingPublisher{}
	eng.dispatcher = notifications.NewDispatcher(pub, &notifications.DispatcherConfig{Workers: 2, BufferSize: 64}, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, eng.start(ctx))

	// The signal context is gone before the last notifications are drained.
	cancel()
	for i := 0; i < 20; i++ {
		eng.dispatcher.Dispatch(context.Background(), &notifications.Notification{
			ID:   uuid.New(),
			Type: notifications.NotificationTypeOfferCreated,
		})
	}
	eng.stop()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, 20, pub.published)
}
