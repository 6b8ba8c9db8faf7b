package repository

import (
	"context"
	"database/sql"

	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

// TagAssociationRepository stores which tags are attached to which entities. Add and Remove are
// idempotent.
type TagAssociationRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewTagAssociationRepository(db *sql.DB, clock core.Clock) *TagAssociationRepository {
	return &TagAssociationRepository{db: db, clock: clock}
}

func (r *TagAssociationRepository) Add(ctx context.Context, tenantID string, entityType domain.EntityType, entityID, tagID string) error {
	has, err := r.Has(ctx, tenantID, entityType, entityID, tagID)
	if err != nil || has {
		return err
	}
	query := `INSERT INTO tag_associations (tenant_id, entity_type, entity_id, tag_id, created)
		VALUES (` + placeholders(1, 5) + `)`
	_, err = r.db.ExecContext(ctx, query, tenantID, string(entityType), entityID, tagID, formatDateInDatabase(r.clock.Now()))
	return err
}

func (r *TagAssociationRepository) Remove(ctx context.Context, tenantID string, entityType domain.EntityType, entityID, tagID string) error {
	query := `DELETE FROM tag_associations
		WHERE tenant_id = ` + placeholder(1) + ` AND entity_type = ` + placeholder(2) + `
		  AND entity_id = ` + placeholder(3) + ` AND tag_id = ` + placeholder(4)
	_, err := r.db.ExecContext(ctx, query, tenantID, string(entityType), entityID, tagID)
	return err
}

func (r *TagAssociationRepository) Has(ctx context.Context, tenantID string, entityType domain.EntityType, entityID, tagID string) (bool, error) {
	query := `SELECT COUNT(*) FROM tag_associations
		WHERE tenant_id = ` + placeholder(1) + ` AND entity_type = ` + placeholder(2) + `
		  AND entity_id = ` + placeholder(3) + ` AND tag_id = ` + placeholder(4)
	var n int
	if err := r.db.QueryRowContext(ctx, query, tenantID, string(entityType), entityID, tagID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// TagsFor lists the tag ids attached to an entity.
func (r *TagAssociationRepository) TagsFor(ctx context.Context, tenantID string, entityType domain.EntityType, entityID string) ([]string, error) {
	query := `SELECT tag_id FROM tag_associations
		WHERE tenant_id = ` + placeholder(1) + ` AND entity_type = ` + placeholder(2) + ` AND entity_id = ` + placeholder(3) + `
		ORDER BY tag_id ASC`
	rows, err := r.db.QueryContext(ctx, query, tenantID, string(entityType), entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
