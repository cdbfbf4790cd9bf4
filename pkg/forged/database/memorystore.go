package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var _ DeploymentStore = &MemoryStore{}

// MemoryStore keeps deployments in process memory. It backs tests and
// development setups running without PostgreSQL. Contents do not survive
// process restarts.
type MemoryStore struct {
	lock        sync.Mutex
	deployments map[string]Deployment
	attempts    map[string]Attempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deployments: make(map[string]Deployment),
		attempts:    make(map[string]Attempt),
	}
}

func deploymentKey(task string, round int) string {
	return fmt.Sprintf("%s/%d", task, round)
}

func attemptKey(task string, round int, nonce string) string {
	return fmt.Sprintf("%s/%d/%s", task, round, nonce)
}

func (m *MemoryStore) Deployment(ctx context.Context, task string, round int) (*Deployment, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	deployment, ok := m.deployments[deploymentKey(task, round)]
	if !ok {
		return nil, ErrNotFound
	}

	return &deployment, nil
}

func (m *MemoryStore) Deployments(ctx context.Context, task string, limit int) ([]*Deployment, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	deployments := make([]*Deployment, 0)
	for _, deployment := range m.deployments {
		if task != "" && deployment.Task != task {
			continue
		}
		deployment := deployment
		deployments = append(deployments, &deployment)
	}

	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].Created.After(deployments[j].Created)
	})

	if limit > 0 && len(deployments) > limit {
		deployments = deployments[:limit]
	}

	return deployments, nil
}

func (m *MemoryStore) LatestSucceeded(ctx context.Context, task string, belowRound int) (*Deployment, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	var latest *Deployment
	for _, deployment := range m.deployments {
		if deployment.Task != task || deployment.Round >= belowRound || deployment.Status != StatusSucceeded {
			continue
		}
		if latest == nil || deployment.Round > latest.Round {
			deployment := deployment
			latest = &deployment
		}
	}

	if latest == nil {
		return nil, ErrNotFound
	}

	return latest, nil
}

func (m *MemoryStore) CreateDeployment(ctx context.Context, deployment Deployment) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	key := deploymentKey(deployment.Task, deployment.Round)
	if _, ok := m.deployments[key]; ok {
		return false, nil
	}

	m.deployments[key] = deployment
	return true, nil
}

func (m *MemoryStore) WriteDeployment(ctx context.Context, deployment Deployment) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.deployments[deploymentKey(deployment.Task, deployment.Round)] = deployment
	return nil
}

func (m *MemoryStore) ResetDeployment(ctx context.Context, task string, round int, correlationID string) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	key := deploymentKey(task, round)
	deployment, ok := m.deployments[key]
	if !ok || !deployment.Status.Terminal() {
		return false, nil
	}

	deployment.Status = StatusPending
	deployment.CorrelationID = correlationID
	deployment.AttemptCount = 0
	deployment.FailureKind = ""
	deployment.LastError = nil
	deployment.NotificationFailed = false
	deployment.Updated = time.Now()
	deployment.CompletedAt = nil

	m.deployments[key] = deployment
	return true, nil
}

func (m *MemoryStore) Attempt(ctx context.Context, task string, round int, nonce string) (*Attempt, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	attempt, ok := m.attempts[attemptKey(task, round, nonce)]
	if !ok {
		return nil, ErrNotFound
	}

	return &attempt, nil
}

func (m *MemoryStore) WriteAttempt(ctx context.Context, attempt Attempt) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	key := attemptKey(attempt.Task, attempt.Round, attempt.Nonce)
	if _, ok := m.attempts[key]; ok {
		return false, nil
	}

	m.attempts[key] = attempt
	return true, nil
}

func (m *MemoryStore) PruneAttempts(ctx context.Context, before time.Time) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	pruned := 0
	for key, attempt := range m.attempts {
		deployment, ok := m.deployments[deploymentKey(attempt.Task, attempt.Round)]
		if !ok || !deployment.Status.Terminal() {
			continue
		}
		if attempt.Created.Before(before) {
			delete(m.attempts, key)
			pruned++
		}
	}

	return pruned, nil
}
