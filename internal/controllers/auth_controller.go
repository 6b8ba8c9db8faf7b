package controllers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

var errMalformedKey = errors.New("malformed api key")

type AuthController struct {
	ApiKeys ApiKeyRepo
	Clock   core.Clock
}

func NewAuthController(apiKeys ApiKeyRepo, clock core.Clock) AuthController {
	return AuthController{ApiKeys: apiKeys, Clock: clock}
}

// RequireAuth resolves the X-API-Key header to a tenant and puts it on the request context.
// Keys look like cf_<prefix>_<secret>; only the bcrypt hash of the secret is stored.
func (ac *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(apiKeyHeader)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing "+apiKeyHeader+" header")
			return
		}
		key, err := ac.authenticate(r.Context(), raw)
		if err != nil {
			slog.WarnContext(r.Context(), "Rejected api key", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if err := ac.ApiKeys.TouchLastUsed(r.Context(), key.ID, ac.Clock.Now()); err != nil {
			slog.WarnContext(r.Context(), "Failed to record api key use", "api_key_id", key.ID, "error", err)
		}
		ctx := core.WithTenant(r.Context(), key.TenantID)
		ctx = context.WithValue(ctx, core.CtxKeyApiKeyId, key.ID)
		next(w, r.WithContext(ctx))
	}
}

func (ac *AuthController) authenticate(ctx context.Context, raw string) (*domain.ApiKey, error) {
	prefix, secret, err := splitApiKey(raw)
	if err != nil {
		return nil, err
	}
	key, err := ac.ApiKeys.FindByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if !key.Enabled {
		return nil, fmt.Errorf("api key %s is disabled", key.ID)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return nil, fmt.Errorf("api key %s: %w", key.ID, err)
	}
	return key, nil
}

func splitApiKey(raw string) (prefix, secret string, err error) {
	parts := strings.Split(raw, "_")
	if len(parts) != 3 || parts[0] != "cf" || parts[1] == "" || parts[2] == "" {
		return "", "", errMalformedKey
	}
	return parts[1], parts[2], nil
}

// GenerateApiKey creates a new key record for tenantID. The returned plain key is shown once
// and cannot be recovered from the record.
func GenerateApiKey(tenantID, name string, clock core.Clock) (string, *domain.ApiKey, error) {
	if tenantID == "" {
		return "", nil, domain.ErrMissingTenant
	}
	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	secret := strings.ReplaceAll(uuid.NewString(), "-", "")
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash api key: %w", err)
	}
	key := &domain.ApiKey{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Prefix:     prefix,
		SecretHash: string(hash),
		Name:       name,
		Created:    clock.Now(),
		Enabled:    true,
	}
	return "cf_" + prefix + "_" + secret, key, nil
}

// tenantOf returns the authenticated tenant. RequireAuth guarantees it is present.
func tenantOf(r *http.Request) string {
	tenantID, _ := core.TenantFromContext(r.Context())
	return tenantID
}
