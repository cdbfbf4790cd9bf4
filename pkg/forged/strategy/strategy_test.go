package strategy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/forge/pkg/forged/database"
	"github.com/appforge/forge/pkg/forged/strategy"
)

func succeededDeployment(task string, round int) database.Deployment {
	repository := "https://github.com/owner/" + task
	return database.Deployment{
		Task:          task,
		Round:         round,
		Status:        database.StatusSucceeded,
		RepositoryURL: &repository,
	}
}

func TestResolveFirstRoundCreates(t *testing.T) {
	store := database.NewMemoryStore()

	resolution, err := strategy.Resolve(context.Background(), store, "markdown-to-html", 1)

	require.NoError(t, err)
	assert.Equal(t, strategy.ModeCreate, resolution.Mode)
	assert.Nil(t, resolution.Baseline)
}

func TestResolveLaterRoundEnhancesLatestSucceeded(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()

	for round := 1; round <= 2; round++ {
		_, err := store.CreateDeployment(ctx, succeededDeployment("markdown-to-html", round))
		require.NoError(t, err)
	}

	resolution, err := strategy.Resolve(ctx, store, "markdown-to-html", 3)

	require.NoError(t, err)
	assert.Equal(t, strategy.ModeEnhance, resolution.Mode)
	require.NotNil(t, resolution.Baseline)
	assert.Equal(t, 2, resolution.Baseline.Round)
}

func TestResolveSkipsFailedRounds(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateDeployment(ctx, succeededDeployment("markdown-to-html", 1))
	require.NoError(t, err)

	failed := succeededDeployment("markdown-to-html", 2)
	failed.Status = database.StatusFailed
	failed.RepositoryURL = nil
	_, err = store.CreateDeployment(ctx, failed)
	require.NoError(t, err)

	resolution, err := strategy.Resolve(ctx, store, "markdown-to-html", 3)

	require.NoError(t, err)
	require.NotNil(t, resolution.Baseline)
	assert.Equal(t, 1, resolution.Baseline.Round)
}

func TestResolveMissingBaseline(t *testing.T) {
	store := database.NewMemoryStore()

	_, err := strategy.Resolve(context.Background(), store, "markdown-to-html", 2)

	assert.ErrorIs(t, err, strategy.ErrMissingBaseline)
}
