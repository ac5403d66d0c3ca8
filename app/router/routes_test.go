package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/Kura/app/handlers"
	"github.com/amirphl/Kura/app/middleware"
	"github.com/amirphl/Kura/app/services"
	businessflow "github.com/amirphl/Kura/business_flow"
	"github.com/amirphl/Kura/config"
	"github.com/amirphl/Kura/models"
	"github.com/amirphl/Kura/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

type testServer struct {
	app    *fiber.App
	tokens services.TokenService
}

func newTestServer(t *testing.T, health HealthCheck) *testServer {
	t.Helper()
	lg := log.New(io.Discard, "", 0)

	registry, err := config.NewCollectionRegistry(config.IDGenConfig{DefaultWidth: 8}, []models.CollectionConfig{
		{Key: "orders", CustomID: true},
		{Key: "tickets", CustomID: true, IDPattern: "T-####"},
		{Key: "legacy", CustomID: true, IDPattern: "LEG"},
	})
	require.NoError(t, err)

	ids := services.NewIDService(repository.NewMemoryCounterRepository(), lg)
	docs := repository.NewMemoryDocumentRepository()
	tokens, err := services.NewTokenService(time.Hour, "kura", "kura-admin", false, "", "", testSecret)
	require.NoError(t, err)

	cfg := &config.ProductionConfig{
		Server:     config.ServerConfig{BodyLimit: 1 << 20, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second},
		Store:      config.StoreConfig{DocumentBackend: config.BackendMemory, CounterBackend: config.BackendMemory},
		Security:   config.SecurityConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"}},
		Deployment: config.DeploymentConfig{Environment: "development", Version: "test"},
	}

	r := NewFiberRouter(
		cfg,
		lg,
		handlers.NewCollectionHandler(businessflow.NewCollectionFlow(docs, ids, registry, lg), lg, time.Second),
		handlers.NewCounterAdminHandler(businessflow.NewCounterAdminFlow(ids, registry, lg), lg, time.Second),
		middleware.NewAuthMiddleware(tokens),
		health,
	)
	r.SetupRoutes()
	return &testServer{app: r.GetApp(), tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, target, body, token string) (int, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env apiEnvelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func TestDocumentRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	status, env := s.do(t, http.MethodPost, "/api/v1/collections/orders", `{"total":10,"status":"new"}`, "")
	require.Equal(t, http.StatusCreated, status)
	var created map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "ORD00000001", created["_id"])

	status, env = s.do(t, http.MethodPost, "/api/v1/collections/orders", `[{"total":1},{"_id":"KEEP","total":2},{"total":3}]`, "")
	require.Equal(t, http.StatusCreated, status)
	var batch struct {
		Inserted int              `json:"inserted"`
		Items    []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	assert.Equal(t, 3, batch.Inserted)
	assert.Equal(t, "ORD00000002", batch.Items[0]["_id"])
	assert.Equal(t, "KEEP", batch.Items[1]["_id"])
	assert.Equal(t, "ORD00000003", batch.Items[2]["_id"])

	status, env = s.do(t, http.MethodGet, "/api/v1/collections/orders/count?filter="+url.QueryEscape(`{"status":"new"}`), "", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"collection":"orders","count":1}`, string(env.Data))

	status, env = s.do(t, http.MethodGet, "/api/v1/collections/orders?sort=-total&count=2&page=1", "", "")
	require.Equal(t, http.StatusOK, status)
	var page businessflow.ListResult
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.EqualValues(t, 4, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "ORD00000001", page.Items[0]["_id"])

	status, env = s.do(t, http.MethodPut, "/api/v1/collections/orders/ORD00000001", `{"status":"paid"}`, "")
	require.Equal(t, http.StatusOK, status)
	var updated map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "paid", updated["status"])
	assert.EqualValues(t, 10, updated["total"])

	status, _ = s.do(t, http.MethodGet, "/api/v1/collections/orders/ORD00000001", "", "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodDelete, "/api/v1/collections/orders/ORD00000001", "", "")
	assert.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/collections/orders/ORD00000001", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "DOCUMENT_NOT_FOUND", env.Error.Code)
}

func TestDocumentRoutes_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		code   string
	}{
		{"BadFilterJSON", http.MethodGet, "/api/v1/collections/orders?filter=" + url.QueryEscape("{"), "", http.StatusBadRequest, "INVALID_FILTER"},
		{"BadFilterField", http.MethodGet, "/api/v1/collections/orders?filter=" + url.QueryEscape(`{"$where":"1"}`), "", http.StatusBadRequest, "INVALID_FILTER"},
		{"OverlappingFilter", http.MethodGet, "/api/v1/collections/orders/count?filter=" + url.QueryEscape(`{"a":{"b":1},"a.b":2}`), "", http.StatusBadRequest, "INVALID_FILTER"},
		{"BadSort", http.MethodGet, "/api/v1/collections/orders?sort=" + url.QueryEscape("na me"), "", http.StatusBadRequest, "INVALID_SORT"},
		{"BadPage", http.MethodGet, "/api/v1/collections/orders?page=x", "", http.StatusBadRequest, "INVALID_PAGE"},
		{"ZeroPage", http.MethodGet, "/api/v1/collections/orders?page=-2", "", http.StatusBadRequest, "INVALID_PAGE"},
		{"BadCollection", http.MethodGet, "/api/v1/collections/bad!name", "", http.StatusBadRequest, "INVALID_COLLECTION"},
		{"EmptyBody", http.MethodPost, "/api/v1/collections/orders", " ", http.StatusBadRequest, "DOCUMENT_REQUIRED"},
		{"GarbageBody", http.MethodPost, "/api/v1/collections/orders", "nope", http.StatusBadRequest, "INVALID_REQUEST"},
		{"EmptyPatch", http.MethodPut, "/api/v1/collections/orders/X", "{}", http.StatusBadRequest, "INVALID_UPDATE"},
		{"UpdateMissing", http.MethodPut, "/api/v1/collections/orders/X", `{"a":1}`, http.StatusNotFound, "DOCUMENT_NOT_FOUND"},
		{"DeleteMissing", http.MethodDelete, "/api/v1/collections/orders/X", "", http.StatusNotFound, "DOCUMENT_NOT_FOUND"},
		{"MalformedIDPattern", http.MethodPost, "/api/v1/collections/legacy", `{"a":1}`, http.StatusInternalServerError, "ID_PATTERN_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.do(t, tt.method, tt.target, tt.body, "")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.RequestID)
		})
	}

	t.Run("DuplicateID", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPost, "/api/v1/collections/notes", `{"_id":"n1"}`, "")
		require.Equal(t, http.StatusCreated, status)
		status, env := s.do(t, http.MethodPost, "/api/v1/collections/notes", `{"_id":"n1"}`, "")
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "DOCUMENT_ID_EXISTS", env.Error.Code)
	})
}

func TestExportRoute(t *testing.T) {
	s := newTestServer(t, nil)
	status, _ := s.do(t, http.MethodPost, "/api/v1/collections/orders", `{"total":10}`, "")
	require.Equal(t, http.StatusCreated, status)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/collections/orders/export", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment; filename=orders_")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, len(raw) > 4 && string(raw[:2]) == "PK")
}

func TestAdminCounterRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	token, err := s.tokens.GenerateAdminToken("ops@example.com")
	require.NoError(t, err)

	t.Run("RequiresToken", func(t *testing.T) {
		status, env := s.do(t, http.MethodGet, "/api/v1/admin/counters/orders", "", "")
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "MISSING_AUTHORIZATION_HEADER", env.Error.Code)

		status, env = s.do(t, http.MethodGet, "/api/v1/admin/counters/orders", "", "not-a-jwt")
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "TOKEN_INVALID", env.Error.Code)
	})

	t.Run("ReadSetAllocate", func(t *testing.T) {
		status, env := s.do(t, http.MethodGet, "/api/v1/admin/counters/tickets", "", token)
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"collection":"tickets","next":1,"pattern":"T-####","custom_id":true}`, string(env.Data))

		status, _ = s.do(t, http.MethodPut, "/api/v1/admin/counters/tickets", `{"next":42}`, token)
		require.Equal(t, http.StatusOK, status)

		status, env = s.do(t, http.MethodPost, "/api/v1/admin/counters/tickets/next-id", "", token)
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"collection":"tickets","id":"T-0042"}`, string(env.Data))

		status, env = s.do(t, http.MethodGet, "/api/v1/admin/counters/tickets", "", token)
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(env.Data), `"next":43`)
	})

	t.Run("RejectsInvalidValue", func(t *testing.T) {
		status, env := s.do(t, http.MethodPut, "/api/v1/admin/counters/tickets", `{"next":0}`, token)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

		status, env = s.do(t, http.MethodPut, "/api/v1/admin/counters/tickets", `{"next":-5}`, token)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	})

	t.Run("ExhaustedCounterIsConflict", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPut, "/api/v1/admin/counters/orders", `{"next":9223372036854775807}`, token)
		require.Equal(t, http.StatusOK, status)

		status, env := s.do(t, http.MethodPost, "/api/v1/admin/counters/orders/next-id", "", token)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "COUNTER_EXHAUSTED", env.Error.Code)

		status, env = s.do(t, http.MethodPost, "/api/v1/collections/orders", `{"total":1}`, "")
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "COUNTER_EXHAUSTED", env.Error.Code)

		status, env = s.do(t, http.MethodGet, "/api/v1/admin/counters/orders", "", token)
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(env.Data), `"next":9223372036854775807`)
	})
}

func TestHealthRoute(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		s := newTestServer(t, func(context.Context) error { return nil })
		status, env := s.do(t, http.MethodGet, "/api/v1/health", "", "")
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, env.Success)
	})

	t.Run("StoreDown", func(t *testing.T) {
		s := newTestServer(t, func(context.Context) error { return errors.New("connection refused") })
		status, env := s.do(t, http.MethodGet, "/api/v1/health", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, "STORE_UNAVAILABLE", env.Error.Code)
	})
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t, nil)
	status, env := s.do(t, http.MethodGet, "/api/v1/nothing-here", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}
