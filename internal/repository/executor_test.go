package repository

import (
	"context"
	"testing"
	"time"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRepository_SaveAndHeartbeat(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutorRepository(newTestDB(t))

	first := &domain.Executor{Name: "node-a", Started: testStart}
	second := &domain.Executor{Name: "node-b", Started: testStart}
	id1, err := repo.Save(ctx, first)
	require.NoError(t, err)
	id2, err := repo.Save(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.True(t, first.LastActive.Equal(testStart))

	require.NoError(t, repo.UpdateLastActive(ctx, id1, testStart.Add(time.Minute)))

	list, err := repo.GetExecutorsByLastActive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "node-a", list[0].Name)
}
