package domain

import (
	"database/sql"
	"time"
)

// ApiKey authenticates operator API calls for one tenant. Only the bcrypt hash of the secret is stored.
type ApiKey struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenantId"`
	Prefix     string       `json:"prefix"`
	SecretHash string       `json:"-"`
	Name       string       `json:"name"`
	Created    time.Time    `json:"created"`
	LastUsed   sql.NullTime `json:"-"`
	Enabled    bool         `json:"enabled"`
}
