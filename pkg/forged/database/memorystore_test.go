package database_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/appforge/forge/pkg/forged/database"
	"github.com/stretchr/testify/assert"
)

func deployment(task string, round int, status database.Status) database.Deployment {
	now := time.Now()
	return database.Deployment{
		Task:          task,
		Round:         round,
		Status:        status,
		CorrelationID: "00000000-0000-0000-0000-000000000000",
		Created:       now,
		Updated:       now,
	}
}

func TestCreateDeploymentIsExclusive(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()

	created, err := store.CreateDeployment(ctx, deployment("mytask", 1, database.StatusPending))
	assert.NoError(t, err)
	assert.True(t, created)

	created, err = store.CreateDeployment(ctx, deployment("mytask", 1, database.StatusPending))
	assert.NoError(t, err)
	assert.False(t, created)

	// a different round is a different record
	created, err = store.CreateDeployment(ctx, deployment("mytask", 2, database.StatusPending))
	assert.NoError(t, err)
	assert.True(t, created)
}

func TestCreateDeploymentConcurrentSingleWinner(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()

	const racers = 32
	wins := make(chan bool, racers)
	wg := sync.WaitGroup{}

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.CreateDeployment(ctx, deployment("mytask", 1, database.StatusPending))
			assert.NoError(t, err)
			wins <- created
		}()
	}

	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestWriteAttemptDetectsReplay(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()

	attempt := database.Attempt{Task: "mytask", Round: 1, Nonce: "abc", Created: time.Now()}

	inserted, err := store.WriteAttempt(ctx, attempt)
	assert.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.WriteAttempt(ctx, attempt)
	assert.NoError(t, err)
	assert.False(t, inserted)

	// new nonce for the same round is a new attempt
	attempt.Nonce = "def"
	inserted, err = store.WriteAttempt(ctx, attempt)
	assert.NoError(t, err)
	assert.True(t, inserted)
}

func TestLatestSucceeded(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()

	assert.NoError(t, store.WriteDeployment(ctx, deployment("mytask", 1, database.StatusSucceeded)))
	assert.NoError(t, store.WriteDeployment(ctx, deployment("mytask", 2, database.StatusFailed)))
	assert.NoError(t, store.WriteDeployment(ctx, deployment("mytask", 3, database.StatusSucceeded)))
	assert.NoError(t, store.WriteDeployment(ctx, deployment("othertask", 2, database.StatusSucceeded)))

	baseline, err := store.LatestSucceeded(ctx, "mytask", 4)
	assert.NoError(t, err)
	assert.Equal(t, 3, baseline.Round)

	// round 3 builds on round 1, skipping the failed round 2
	baseline, err = store.LatestSucceeded(ctx, "mytask", 3)
	assert.NoError(t, err)
	assert.Equal(t, 1, baseline.Round)

	// no successful round below round 1
	_, err = store.LatestSucceeded(ctx, "mytask", 1)
	assert.True(t, database.IsErrNotFound(err))

	_, err = store.LatestSucceeded(ctx, "unknowntask", 10)
	assert.True(t, database.IsErrNotFound(err))
}

func TestResetDeployment(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()

	// nothing to reset
	won, err := store.ResetDeployment(ctx, "mytask", 1, "new-correlation")
	assert.NoError(t, err)
	assert.False(t, won)

	// in-flight deployments cannot be reset
	assert.NoError(t, store.WriteDeployment(ctx, deployment("mytask", 1, database.StatusInProgress)))
	won, err = store.ResetDeployment(ctx, "mytask", 1, "new-correlation")
	assert.NoError(t, err)
	assert.False(t, won)

	failed := deployment("mytask", 1, database.StatusFailed)
	msg := "generation failed"
	failed.LastError = &msg
	failed.FailureKind = database.FailureGeneration
	failed.AttemptCount = 3
	assert.NoError(t, store.WriteDeployment(ctx, failed))

	won, err = store.ResetDeployment(ctx, "mytask", 1, "new-correlation")
	assert.NoError(t, err)
	assert.True(t, won)

	reset, err := store.Deployment(ctx, "mytask", 1)
	assert.NoError(t, err)
	assert.Equal(t, database.StatusPending, reset.Status)
	assert.Equal(t, "new-correlation", reset.CorrelationID)
	assert.Equal(t, 0, reset.AttemptCount)
	assert.Empty(t, reset.FailureKind)
	assert.Nil(t, reset.LastError)
	assert.Nil(t, reset.CompletedAt)
}

func TestPruneAttempts(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)

	assert.NoError(t, store.WriteDeployment(ctx, deployment("finished", 1, database.StatusSucceeded)))
	assert.NoError(t, store.WriteDeployment(ctx, deployment("running", 1, database.StatusInProgress)))

	_, err := store.WriteAttempt(ctx, database.Attempt{Task: "finished", Round: 1, Nonce: "a", Created: old})
	assert.NoError(t, err)
	_, err = store.WriteAttempt(ctx, database.Attempt{Task: "finished", Round: 1, Nonce: "b", Created: time.Now()})
	assert.NoError(t, err)
	_, err = store.WriteAttempt(ctx, database.Attempt{Task: "running", Round: 1, Nonce: "c", Created: old})
	assert.NoError(t, err)

	pruned, err := store.PruneAttempts(ctx, time.Now().Add(-24*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 1, pruned)

	// the recent attempt and the attempt of the running deployment survive
	_, err = store.Attempt(ctx, "finished", 1, "b")
	assert.NoError(t, err)
	_, err = store.Attempt(ctx, "running", 1, "c")
	assert.NoError(t, err)
	_, err = store.Attempt(ctx, "finished", 1, "a")
	assert.True(t, database.IsErrNotFound(err))
}

func TestDeploymentReturnsCopy(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := context.Background()

	assert.NoError(t, store.WriteDeployment(ctx, deployment("mytask", 1, database.StatusPending)))

	first, err := store.Deployment(ctx, "mytask", 1)
	assert.NoError(t, err)
	first.Status = database.StatusFailed

	second, err := store.Deployment(ctx, "mytask", 1)
	assert.NoError(t, err)
	assert.Equal(t, database.StatusPending, second.Status)
}
