package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/google/uuid"
)

type ApiKeyRepository struct {
	db *sql.DB
}

func NewApiKeyRepository(db *sql.DB) *ApiKeyRepository {
	return &ApiKeyRepository{db: db}
}

func (r *ApiKeyRepository) Save(ctx context.Context, key *domain.ApiKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.Created.IsZero() {
		key.Created = time.Now().UTC()
	}
	query := `INSERT INTO api_keys (id, tenant_id, prefix, secret_hash, name, created, last_used, enabled)
		VALUES (` + placeholders(1, 8) + `)`
	_, err := r.db.ExecContext(ctx, query, key.ID, key.TenantID, key.Prefix, key.SecretHash, key.Name,
		formatDateInDatabase(key.Created), formatDateInDatabaseNull(key.LastUsed), key.Enabled)
	return err
}

// FindByPrefix returns the key with the given public prefix, enabled or not.
func (r *ApiKeyRepository) FindByPrefix(ctx context.Context, prefix string) (*domain.ApiKey, error) {
	query := `SELECT id, tenant_id, prefix, secret_hash, name, created, last_used, enabled
		FROM api_keys WHERE prefix = ` + placeholder(1)
	var key domain.ApiKey
	err := r.db.QueryRowContext(ctx, query, prefix).Scan(
		&key.ID, &key.TenantID, &key.Prefix, &key.SecretHash, &key.Name, &key.Created, &key.LastUsed, &key.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *ApiKeyRepository) TouchLastUsed(ctx context.Context, id string, ts time.Time) error {
	query := `UPDATE api_keys SET last_used = ` + placeholder(1) + ` WHERE id = ` + placeholder(2)
	_, err := r.db.ExecContext(ctx, query, formatDateInDatabase(ts), id)
	return err
}
