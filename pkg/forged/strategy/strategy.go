// Package strategy decides how a deployment round is published.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/appforge/forge/pkg/forged/database"
)

// ErrMissingBaseline means an enhancement round was requested for a task
// that has no earlier succeeded round to build on.
var ErrMissingBaseline = errors.New("no succeeded deployment to enhance")

type Mode string

const (
	// ModeCreate publishes a brand new repository.
	ModeCreate Mode = "create"
	// ModeEnhance evolves the repository of an earlier succeeded round.
	ModeEnhance Mode = "enhance"
)

// Resolution is the publishing plan for one deployment round.
type Resolution struct {
	Mode     Mode
	Baseline *database.Deployment
}

// Resolve determines the publishing mode for a round. The first round of
// a task always creates; later rounds enhance the latest succeeded round
// below it, and fail fast when no such round exists.
func Resolve(ctx context.Context, store database.DeploymentStore, task string, round int) (*Resolution, error) {
	if round <= 1 {
		return &Resolution{Mode: ModeCreate}, nil
	}

	baseline, err := store.LatestSucceeded(ctx, task, round)
	if database.IsErrNotFound(err) {
		return nil, fmt.Errorf("%w: task '%s' has no succeeded round below %d", ErrMissingBaseline, task, round)
	}
	if err != nil {
		return nil, fmt.Errorf("query baseline deployment: %s", err)
	}

	return &Resolution{
		Mode:     ModeEnhance,
		Baseline: baseline,
	}, nil
}
