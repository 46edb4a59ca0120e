package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/seed"
	"fieldservice_backend/internal/automation/service"
	"fieldservice_backend/internal/automation/store/memory"
	"fieldservice_backend/platform/httpkit"
	"fieldservice_backend/platform/logger"
	"fieldservice_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (e *recordingEmitter) Emit(_ context.Context, evt domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

type fixture struct {
	store   *memory.Store
	emitter *recordingEmitter
	engine  *gin.Engine
}

func newFixture(t *testing.T, locationID string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	emitter := &recordingEmitter{}
	seeder, err := seed.New(store, logger.Nop())
	require.NoError(t, err)
	h := New(service.New(store, emitter, seeder, logger.Nop()), validator.New())

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Set(httpkit.ContextRolesKey, []string{"admin"})
		if locationID != "" {
			c.Set(httpkit.ContextLocationIDKey, locationID)
		}
		c.Next()
	})
	h.RegisterRoutes(engine.Group("/admin/automation"), engine.Group("/automation"))
	return &fixture{store: store, emitter: emitter, engine: engine}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func smsRule() map[string]any {
	return map[string]any{
		"name":    "Thank you",
		"trigger": map[string]any{"type": "quote-event", "subType": "signed"},
		"conditions": []any{
			map[string]any{"field": "quote.total", "operator": "gte", "value": 1000},
		},
		"actions": []any{
			map[string]any{"type": "send-sms", "config": map[string]any{"message": "Thanks {{contact.firstName}}"}},
		},
		"priority": 10,
	}
}

func TestCreateAndGetRule(t *testing.T) {
	f := newFixture(t, "loc-1")

	w := f.do(http.MethodPost, "/admin/automation/rules", smsRule())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created domain.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "loc-1", created.LocationID)
	assert.True(t, created.IsActive)

	w = f.do(http.MethodGet, "/admin/automation/rules/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/admin/automation/rules?triggerType=quote-event", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestCreateRuleRejectsUnknownAction(t *testing.T) {
	f := newFixture(t, "loc-1")
	body := smsRule()
	body["actions"] = []any{map[string]any{"type": "launch-rocket"}}

	w := f.do(http.MethodPost, "/admin/automation/rules", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRuleRequiresActions(t *testing.T) {
	f := newFixture(t, "loc-1")
	body := smsRule()
	delete(body, "actions")

	w := f.do(http.MethodPost, "/admin/automation/rules", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "actions")
}

func TestRulesAreTenantScoped(t *testing.T) {
	f := newFixture(t, "loc-1")
	other, err := f.store.CreateRule(context.Background(), domain.Rule{
		LocationID: "loc-2",
		Name:       "other tenant",
		Trigger:    domain.Trigger{Type: domain.TriggerSMSReceived},
		Actions:    []domain.Action{{Type: domain.ActionSendSMS, Config: map[string]any{"message": "x"}}},
		IsActive:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/admin/automation/rules/"+other.ID.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/admin/automation/rules/"+other.ID.String()+"/deactivate", nil).Code)
}

func TestDeactivateAndActivateRule(t *testing.T) {
	f := newFixture(t, "loc-1")
	w := f.do(http.MethodPost, "/admin/automation/rules", smsRule())
	var created domain.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/admin/automation/rules/"+created.ID.String()+"/deactivate", nil).Code)
	rule, err := f.store.GetRule(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, rule.IsActive)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/admin/automation/rules/"+created.ID.String()+"/activate", nil).Code)
	rule, err = f.store.GetRule(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, rule.IsActive)
}

func TestRequeueDeadLetteredItem(t *testing.T) {
	f := newFixture(t, "loc-1")
	ctx := context.Background()
	rule := &domain.Rule{ID: uuid.New(), LocationID: "loc-1"}
	evt := domain.NewEvent(domain.EventQuoteSigned, "loc-1", "q-1", nil)
	now := time.Now().UTC()

	item, _, err := f.store.InsertQueueItem(ctx, domain.NewQueueItem(rule, evt, 1, now))
	require.NoError(t, err)
	claimed, err := f.store.ClaimNext(ctx, "w-1", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, f.store.MarkDeadLettered(ctx, item.ID, "w-1", domain.RunLog{Attempt: 1, WorkerID: "w-1", FinishedAt: now, Error: "boom"}, now))

	w := f.do(http.MethodGet, "/admin/automation/queue?status=dead-lettered", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), item.ID.String())

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/admin/automation/queue/"+item.ID.String()+"/requeue", nil).Code)
	got, err := f.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePending, got.Status)
	assert.Zero(t, got.Attempts)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/admin/automation/queue/"+item.ID.String()+"/requeue", nil).Code)
}

func TestListQueueRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, "loc-1")
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/admin/automation/queue?status=lost", nil).Code)
}

func TestEmitEventIsAccepted(t *testing.T) {
	f := newFixture(t, "loc-1")

	w := f.do(http.MethodPost, "/automation/events", map[string]any{
		"type":     "quote.signed",
		"entityId": "q-1",
		"data":     map[string]any{"quote": map[string]any{"total": 1500}},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Len(t, f.emitter.events, 1)
	evt := f.emitter.events[0]
	assert.Equal(t, domain.EventQuoteSigned, evt.Type)
	assert.Equal(t, "loc-1", evt.LocationID)
	assert.Equal(t, "quote", evt.EntityType)
}

func TestEmitEventRejectsSyntheticTypes(t *testing.T) {
	f := newFixture(t, "loc-1")

	w := f.do(http.MethodPost, "/automation/events", map[string]any{"type": "time.due", "entityId": "q-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.emitter.events)
}

func TestRequestsWithoutLocationAreForbidden(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/admin/automation/rules", nil).Code)
}

func TestSeedEndpointCreatesDefaults(t *testing.T) {
	f := newFixture(t, "loc-1")

	w := f.do(http.MethodPost, "/admin/automation/seed", map[string]any{"params": map[string]string{"signedStageId": "won"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res seed.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Contains(t, res.Created, "quote-signed-thank-you")
}

func TestListTriggersForEntity(t *testing.T) {
	f := newFixture(t, "loc-1")
	w := f.do(http.MethodGet, "/admin/automation/triggers?entityId=appt-1&pending=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)
}
