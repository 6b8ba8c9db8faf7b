package repository

import (
	"context"
	"testing"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagAssociationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewTagAssociationRepository(newTestDB(t), newTestClock())

	require.NoError(t, repo.Add(ctx, "t1", domain.EntityContact, "c1", "vip"))
	require.NoError(t, repo.Add(ctx, "t1", domain.EntityContact, "c1", "vip"), "add is idempotent")
	require.NoError(t, repo.Add(ctx, "t1", domain.EntityContact, "c1", "lead"))

	tags, err := repo.TagsFor(ctx, "t1", domain.EntityContact, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead", "vip"}, tags)

	has, err := repo.Has(ctx, "t2", domain.EntityContact, "c1", "vip")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, repo.Remove(ctx, "t1", domain.EntityContact, "c1", "vip"))
	require.NoError(t, repo.Remove(ctx, "t1", domain.EntityContact, "c1", "vip"))
	has, err = repo.Has(ctx, "t1", domain.EntityContact, "c1", "vip")
	require.NoError(t, err)
	assert.False(t, has)
}
