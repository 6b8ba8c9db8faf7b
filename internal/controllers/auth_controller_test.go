package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// MockApiKeyRepo implements ApiKeyRepo for testing
type MockApiKeyRepo struct {
	FindByPrefixFunc  func(ctx context.Context, prefix string) (*domain.ApiKey, error)
	TouchLastUsedFunc func(ctx context.Context, id string, ts time.Time) error
}

func (m *MockApiKeyRepo) FindByPrefix(ctx context.Context, prefix string) (*domain.ApiKey, error) {
	if m.FindByPrefixFunc != nil {
		return m.FindByPrefixFunc(ctx, prefix)
	}
	return nil, domain.ErrNotFound
}
func (m *MockApiKeyRepo) TouchLastUsed(ctx context.Context, id string, ts time.Time) error {
	if m.TouchLastUsedFunc != nil {
		return m.TouchLastUsedFunc(ctx, id, ts)
	}
	return nil
}

// newTestAuth returns an AuthController that accepts exactly one generated key for tenantID.
func newTestAuth(t *testing.T, tenantID string) (AuthController, string, *domain.ApiKey) {
	t.Helper()
	clock := core.NewFakeClock(testStart)
	raw, key, err := GenerateApiKey(tenantID, "test", clock)
	require.NoError(t, err)
	repo := &MockApiKeyRepo{FindByPrefixFunc: func(ctx context.Context, prefix string) (*domain.ApiKey, error) {
		if prefix == key.Prefix {
			cp := *key
			return &cp, nil
		}
		return nil, domain.ErrNotFound
	}}
	return NewAuthController(repo, clock), raw, key
}

func TestGenerateApiKey(t *testing.T) {
	raw, key, err := GenerateApiKey("t1", "ci", core.NewFakeClock(testStart))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "cf_"+key.Prefix+"_"))
	assert.NotContains(t, key.SecretHash, strings.TrimPrefix(raw, "cf_"+key.Prefix+"_"))
	assert.Equal(t, "t1", key.TenantID)
	assert.True(t, key.Enabled)
	assert.Equal(t, testStart, key.Created)

	_, _, err = GenerateApiKey("", "ci", core.NewFakeClock(testStart))
	assert.ErrorIs(t, err, domain.ErrMissingTenant)
}

func TestRequireAuth_ValidKeySetsTenant(t *testing.T) {
	auth, raw, key := newTestAuth(t, "t1")
	var touched string
	auth.ApiKeys.(*MockApiKeyRepo).TouchLastUsedFunc = func(ctx context.Context, id string, ts time.Time) error {
		touched = id
		return nil
	}

	var gotTenant string
	handler := auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = tenantOf(r)
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/workflows", nil)
	req.Header.Set(apiKeyHeader, raw)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", gotTenant)
	assert.Equal(t, key.ID, touched)
}

func TestRequireAuth_Rejects(t *testing.T) {
	auth, raw, _ := newTestAuth(t, "t1")
	prefix := strings.Split(raw, "_")[1]

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"malformed", "not-a-key"},
		{"wrong scheme", "xx_" + prefix + "_secret"},
		{"unknown prefix", "cf_unknown_secret"},
		{"wrong secret", "cf_" + prefix + "_wrongsecret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) { called = true })
			req := httptest.NewRequest(http.MethodGet, "/api/workflows", nil)
			if tt.header != "" {
				req.Header.Set(apiKeyHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.False(t, called)
		})
	}
}

func TestRequireAuth_DisabledKey(t *testing.T) {
	clock := core.NewFakeClock(testStart)
	raw, key, err := GenerateApiKey("t1", "old", clock)
	require.NoError(t, err)
	key.Enabled = false
	auth := NewAuthController(&MockApiKeyRepo{FindByPrefixFunc: func(ctx context.Context, prefix string) (*domain.ApiKey, error) {
		return key, nil
	}}, clock)

	handler := auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) { t.Fatal("handler should not run") })
	req := httptest.NewRequest(http.MethodGet, "/api/workflows", nil)
	req.Header.Set(apiKeyHeader, raw)
	w := httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
