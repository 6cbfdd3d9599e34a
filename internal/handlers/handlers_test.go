package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"topup-reconciler/internal/config"
	"topup-reconciler/internal/metrics"
	"topup-reconciler/internal/model"
	"topup-reconciler/internal/poller"
	"topup-reconciler/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// One shared instance; promauto registers on the process-wide registry.
var testMetrics = metrics.NewMetrics()

type fakeBridge struct {
	credited []string
	err      error
}

func (f *fakeBridge) Credit(_ context.Context, topup *model.PendingTopup, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.credited = append(f.credited, topup.ID)
	return nil
}

type fakeBoardSync struct {
	mirrored map[string]model.TopupStatus
}

func newFakeBoardSync() *fakeBoardSync {
	return &fakeBoardSync{mirrored: make(map[string]model.TopupStatus)}
}

func (f *fakeBoardSync) MirrorStatus(_ context.Context, topupID string, status model.TopupStatus) error {
	f.mirrored[topupID] = status
	return nil
}

type idleFetcher struct{}

func (idleFetcher) FetchRecent(_ context.Context, _ int) ([]model.EmailMessage, error) {
	return nil, nil
}

func (idleFetcher) Close() error { return nil }

type fixture struct {
	store  *store.Store
	bridge *fakeBridge
	syncer *fakeBoardSync
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.PendingTopup{},
		&model.ProcessedEmail{},
		&model.RuleSet{},
		&model.PollerSettings{},
		&model.BoardLink{},
		&model.WebhookEvent{},
	))

	st := store.New(db)
	bridge := &fakeBridge{}
	syncer := newFakeBoardSync()
	p := poller.New(config.PollerConfig{}, 20, st, idleFetcher{}, nil, testMetrics)
	h := NewHandlers(db, st, p, bridge, syncer, testMetrics)

	router := gin.New()
	router.GET("/healthz", h.HealthCheck)
	api := router.Group("/api/v1")
	{
		api.GET("/ruleset", h.GetRuleSet)
		api.PUT("/ruleset", h.UpdateRuleSet)
		api.GET("/poller/settings", h.GetPollerSettings)
		api.PUT("/poller/settings", h.UpdatePollerSettings)
		api.GET("/topups", h.ListTopups)
		api.GET("/topups/:id", h.GetTopup)
		api.POST("/topups/:id/approve", h.ApproveTopup)
		api.POST("/topups/:id/reject", h.RejectTopup)
		api.GET("/webhook-events", h.ListWebhookEvents)
	}

	return &fixture{store: st, bridge: bridge, syncer: syncer, router: router}
}

func (f *fixture) request(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	f.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (f *fixture) stageTopup(t *testing.T) *model.PendingTopup {
	t.Helper()

	topup := &model.PendingTopup{
		ID:            uuid.NewString(),
		Amount:        decimal.NewFromInt(75),
		Currency:      "USD",
		SenderName:    "Jane Doe",
		Source:        model.SourceInbox,
		SourceEmailID: uuid.NewString(),
		Status:        model.StatusPending,
	}
	require.NoError(t, f.store.CreateTopupForEmail(topup))
	return topup
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	w, resp := f.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "stopped", resp["poller"])
}

func TestRuleSetRoundTrip(t *testing.T) {
	f := newFixture(t)

	w, resp := f.request(t, http.MethodGet, "/api/v1/ruleset", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["enabled"])

	body := `{"enabled": true, "sender_whitelist": ["acme bank"], "amount_max_threshold": "500"}`
	w, resp = f.request(t, http.MethodPut, "/api/v1/ruleset", body, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["enabled"])

	rs, err := f.store.GetRuleSet()
	require.NoError(t, err)
	assert.True(t, rs.Enabled)
	assert.Equal(t, []string{"acme bank"}, rs.SenderWhitelist)
}

func TestUpdatePollerSettingsValidation(t *testing.T) {
	f := newFixture(t)

	w, _ := f.request(t, http.MethodPut, "/api/v1/poller/settings",
		`{"enabled": true, "polling_mode": "realtime", "polling_interval_minutes": 0}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.request(t, http.MethodPut, "/api/v1/poller/settings",
		`{"enabled": true, "polling_mode": "realtime", "polling_interval_minutes": 5}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ps, err := f.store.GetPollerSettings()
	require.NoError(t, err)
	assert.True(t, ps.Enabled)
	assert.Equal(t, 5, ps.PollingIntervalMinutes)
}

func TestListTopups(t *testing.T) {
	f := newFixture(t)

	first := f.stageTopup(t)
	f.stageTopup(t)
	require.NoError(t, f.store.TransitionStatus(first.ID, model.StatusPending, model.StatusRejected, "admin"))

	w, resp := f.request(t, http.MethodGet, "/api/v1/topups", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	pagination := resp["pagination"].(map[string]interface{})
	assert.Equal(t, float64(2), pagination["total"])

	w, resp = f.request(t, http.MethodGet, "/api/v1/topups?status=pending", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	pagination = resp["pagination"].(map[string]interface{})
	assert.Equal(t, float64(1), pagination["total"])
}

func TestGetTopupNotFound(t *testing.T) {
	f := newFixture(t)

	w, resp := f.request(t, http.MethodGet, "/api/v1/topups/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", resp["error"])
}

func TestApproveTopup(t *testing.T) {
	f := newFixture(t)
	topup := f.stageTopup(t)

	w, resp := f.request(t, http.MethodPost, "/api/v1/topups/"+topup.ID+"/approve", "",
		map[string]string{"X-Admin-User": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", resp["status"])
	assert.Equal(t, true, resp["credited"])
	assert.Equal(t, []string{topup.ID}, f.bridge.credited)

	got, err := f.store.GetTopup(topup.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, "alice", got.ReviewedBy)

	// The board item tracks the review made through the API.
	assert.Equal(t, model.StatusCredited, f.syncer.mirrored[topup.ID])
}

func TestApproveTopupCreditFailureMirrorsApproved(t *testing.T) {
	f := newFixture(t)
	f.bridge.err = errors.New("wallet unavailable")
	topup := f.stageTopup(t)

	w, resp := f.request(t, http.MethodPost, "/api/v1/topups/"+topup.ID+"/approve", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", resp["status"])
	assert.Equal(t, false, resp["credited"])

	assert.Equal(t, model.StatusApproved, f.syncer.mirrored[topup.ID])
}

func TestApproveTopupConflict(t *testing.T) {
	f := newFixture(t)
	topup := f.stageTopup(t)
	require.NoError(t, f.store.TransitionStatus(topup.ID, model.StatusPending, model.StatusRejected, "admin"))

	w, resp := f.request(t, http.MethodPost, "/api/v1/topups/"+topup.ID+"/approve", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "status_conflict", resp["error"])
	assert.Empty(t, f.bridge.credited)
}

func TestRejectTopupDefaultsActor(t *testing.T) {
	f := newFixture(t)
	topup := f.stageTopup(t)

	w, resp := f.request(t, http.MethodPost, "/api/v1/topups/"+topup.ID+"/reject", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", resp["status"])

	got, err := f.store.GetTopup(topup.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
	assert.Equal(t, "admin", got.ReviewedBy)
	assert.Equal(t, model.StatusRejected, f.syncer.mirrored[topup.ID])
}

func TestListWebhookEvents(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.AppendWebhookEvent(&model.WebhookEvent{
		BoardItemID: "987654",
		Outcome:     model.WebhookOutcomeSuccess,
		Detail:      "approved and credited",
	}))

	w, resp := f.request(t, http.MethodGet, "/api/v1/webhook-events", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	pagination := resp["pagination"].(map[string]interface{})
	assert.Equal(t, float64(1), pagination["total"])

	events := resp["events"].([]interface{})
	require.Len(t, events, 1)
}
