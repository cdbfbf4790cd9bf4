package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal returns true when the deployment has reached a final state and
// will not be processed further.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Failure kinds recorded on failed deployments.
const (
	FailureAsset      = "asset"
	FailureBaseline   = "missing_baseline"
	FailureGeneration = "generation"
	FailurePublish    = "publish"
	FailureInternal   = "internal"
)

// Deployment is the persisted outcome of all processing for a single
// task and round. There is at most one row per (task, round) pair.
type Deployment struct {
	Task               string     `json:"task"`
	Round              int        `json:"round"`
	Status             Status     `json:"status"`
	Email              string     `json:"email,omitempty"`
	CorrelationID      string     `json:"correlationID"`
	RepositoryURL      *string    `json:"repositoryURL,omitempty"`
	PagesURL           *string    `json:"pagesURL,omitempty"`
	CommitSHA          *string    `json:"commitSHA,omitempty"`
	AttemptCount       int        `json:"attemptCount"`
	FailureKind        string     `json:"failureKind,omitempty"`
	LastError          *string    `json:"lastError,omitempty"`
	NotificationFailed bool       `json:"notificationFailed,omitempty"`
	Created            time.Time  `json:"created"`
	Updated            time.Time  `json:"updated"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// Attempt records a single admission of a (task, round, nonce) triple.
// Replays of the same triple are detected through this table.
type Attempt struct {
	Task          string    `json:"task"`
	Round         int       `json:"round"`
	Nonce         string    `json:"nonce"`
	CorrelationID string    `json:"correlationID"`
	Created       time.Time `json:"created"`
}

type DeploymentStore interface {
	Deployment(ctx context.Context, task string, round int) (*Deployment, error)
	Deployments(ctx context.Context, task string, limit int) ([]*Deployment, error)
	LatestSucceeded(ctx context.Context, task string, belowRound int) (*Deployment, error)
	CreateDeployment(ctx context.Context, deployment Deployment) (bool, error)
	WriteDeployment(ctx context.Context, deployment Deployment) error
	ResetDeployment(ctx context.Context, task string, round int, correlationID string) (bool, error)
	Attempt(ctx context.Context, task string, round int, nonce string) (*Attempt, error)
	WriteAttempt(ctx context.Context, attempt Attempt) (bool, error)
	PruneAttempts(ctx context.Context, before time.Time) (int, error)
}

var _ DeploymentStore = &Database{}

const deploymentFields = `task, round, status, email, correlation_id, repository_url, pages_url, commit_sha, attempt_count, failure_kind, last_error, notification_failed, created, updated, completed`

func scanDeployment(rows pgx.Rows) (*Deployment, error) {
	deployment := &Deployment{}

	err := rows.Scan(
		&deployment.Task,
		&deployment.Round,
		&deployment.Status,
		&deployment.Email,
		&deployment.CorrelationID,
		&deployment.RepositoryURL,
		&deployment.PagesURL,
		&deployment.CommitSHA,
		&deployment.AttemptCount,
		&deployment.FailureKind,
		&deployment.LastError,
		&deployment.NotificationFailed,
		&deployment.Created,
		&deployment.Updated,
		&deployment.CompletedAt,
	)

	return deployment, err
}

func (db *Database) Deployment(ctx context.Context, task string, round int) (*Deployment, error) {
	query := `SELECT ` + deploymentFields + ` FROM deployment WHERE task = $1 AND round = $2;`
	rows, err := db.timedQuery(ctx, query, task, round)

	if err != nil {
		return nil, err
	}

	defer rows.Close()
	for rows.Next() {
		return scanDeployment(rows)
	}

	return nil, ErrNotFound
}

func (db *Database) Deployments(ctx context.Context, task string, limit int) ([]*Deployment, error) {
	query := `
SELECT ` + deploymentFields + `
FROM deployment
WHERE ($1 = '' OR task = $1)
ORDER BY created DESC
LIMIT $2;
`
	rows, err := db.timedQuery(ctx, query, task, limit)

	if err != nil {
		return nil, err
	}

	deployments := make([]*Deployment, 0)
	defer rows.Close()
	for rows.Next() {
		deployment, err := scanDeployment(rows)

		if err != nil {
			return nil, err
		}

		deployments = append(deployments, deployment)
	}

	return deployments, nil
}

func (db *Database) LatestSucceeded(ctx context.Context, task string, belowRound int) (*Deployment, error) {
	query := `
SELECT ` + deploymentFields + `
FROM deployment
WHERE task = $1 AND round < $2 AND status = $3
ORDER BY round DESC
LIMIT 1;
`
	rows, err := db.timedQuery(ctx, query, task, belowRound, StatusSucceeded)

	if err != nil {
		return nil, err
	}

	defer rows.Close()
	for rows.Next() {
		return scanDeployment(rows)
	}

	return nil, ErrNotFound
}

// CreateDeployment inserts a fresh deployment record, returning false without
// modifying anything if a record for the same task and round already exists.
// This insert decides the winner between concurrent admissions.
func (db *Database) CreateDeployment(ctx context.Context, deployment Deployment) (bool, error) {
	query := `
INSERT INTO deployment (` + deploymentFields + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (task, round) DO NOTHING;
`
	affected, err := db.timedExec(ctx, query,
		deployment.Task,
		deployment.Round,
		deployment.Status,
		deployment.Email,
		deployment.CorrelationID,
		deployment.RepositoryURL,
		deployment.PagesURL,
		deployment.CommitSHA,
		deployment.AttemptCount,
		deployment.FailureKind,
		deployment.LastError,
		deployment.NotificationFailed,
		deployment.Created,
		deployment.Updated,
		deployment.CompletedAt,
	)
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

func (db *Database) WriteDeployment(ctx context.Context, deployment Deployment) error {
	query := `
INSERT INTO deployment (` + deploymentFields + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (task, round) DO UPDATE
SET status              = EXCLUDED.status,
    email               = EXCLUDED.email,
    correlation_id      = EXCLUDED.correlation_id,
    repository_url      = EXCLUDED.repository_url,
    pages_url           = EXCLUDED.pages_url,
    commit_sha          = EXCLUDED.commit_sha,
    attempt_count       = EXCLUDED.attempt_count,
    failure_kind        = EXCLUDED.failure_kind,
    last_error          = EXCLUDED.last_error,
    notification_failed = EXCLUDED.notification_failed,
    updated             = EXCLUDED.updated,
    completed           = EXCLUDED.completed;
`
	_, err := db.timedExec(ctx, query,
		deployment.Task,
		deployment.Round,
		deployment.Status,
		deployment.Email,
		deployment.CorrelationID,
		deployment.RepositoryURL,
		deployment.PagesURL,
		deployment.CommitSHA,
		deployment.AttemptCount,
		deployment.FailureKind,
		deployment.LastError,
		deployment.NotificationFailed,
		deployment.Created,
		deployment.Updated,
		deployment.CompletedAt,
	)

	return err
}

// ResetDeployment returns a terminal deployment to the pending state so that
// it can be processed again. Exactly one caller wins when several compete;
// the others observe false.
func (db *Database) ResetDeployment(ctx context.Context, task string, round int, correlationID string) (bool, error) {
	query := `
UPDATE deployment
SET status              = $3,
    correlation_id      = $4,
    attempt_count       = 0,
    failure_kind        = '',
    last_error          = NULL,
    notification_failed = FALSE,
    updated             = $5,
    completed           = NULL
WHERE task = $1 AND round = $2 AND status IN ($6, $7);
`
	affected, err := db.timedExec(ctx, query,
		task,
		round,
		StatusPending,
		correlationID,
		time.Now(),
		StatusSucceeded,
		StatusFailed,
	)
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

func (db *Database) Attempt(ctx context.Context, task string, round int, nonce string) (*Attempt, error) {
	query := `SELECT task, round, nonce, correlation_id, created FROM deployment_attempt WHERE task = $1 AND round = $2 AND nonce = $3;`
	rows, err := db.timedQuery(ctx, query, task, round, nonce)

	if err != nil {
		return nil, err
	}

	defer rows.Close()
	for rows.Next() {
		attempt := &Attempt{}

		err := rows.Scan(
			&attempt.Task,
			&attempt.Round,
			&attempt.Nonce,
			&attempt.CorrelationID,
			&attempt.Created,
		)

		if err != nil {
			return nil, err
		}

		return attempt, nil
	}

	return nil, ErrNotFound
}

// WriteAttempt records a (task, round, nonce) admission, returning false if
// the same triple has been seen before.
func (db *Database) WriteAttempt(ctx context.Context, attempt Attempt) (bool, error) {
	query := `
INSERT INTO deployment_attempt (task, round, nonce, correlation_id, created)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (task, round, nonce) DO NOTHING;
`
	affected, err := db.timedExec(ctx, query,
		attempt.Task,
		attempt.Round,
		attempt.Nonce,
		attempt.CorrelationID,
		attempt.Created,
	)
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// PruneAttempts deletes attempt rows older than the given timestamp whose
// deployment has reached a terminal state. Logical deduplication of those
// rounds is unaffected; it is served by the deployment table.
func (db *Database) PruneAttempts(ctx context.Context, before time.Time) (int, error) {
	query := `
DELETE FROM deployment_attempt a
USING deployment d
WHERE d.task = a.task
  AND d.round = a.round
  AND d.status IN ($1, $2)
  AND a.created < $3;
`
	affected, err := db.timedExec(ctx, query, StatusSucceeded, StatusFailed, before)
	if err != nil {
		return 0, err
	}

	return int(affected), nil
}
