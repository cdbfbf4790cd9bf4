// Package dispatch admits deployment requests and schedules pipeline runs.
//
// Admission is deduplicated on two levels. The attempt row, keyed by
// (task, round, nonce), decides races between concurrent submissions of
// the same request. The deployment record, keyed by (task, round),
// decides whether a logically identical deployment already ran; replays
// are answered from the recorded outcome without a second pipeline run.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/appforge/forge/pkg/forged/database"
	"github.com/appforge/forge/pkg/forged/deployment"
	"github.com/appforge/forge/pkg/forged/metrics"
	"github.com/appforge/forge/pkg/forged/operation"
)

// Round-1 redeploy policies.
const (
	RedeployOverwrite = "overwrite"
	RedeployReject    = "reject"
)

const (
	persistTimeout  = time.Second * 5
	renotifyTimeout = time.Minute
)

var ErrDeploymentInProgress = fmt.Errorf("a deployment for this task and round is already in progress")

// PipelineRunner runs admitted deployments and re-sends notifications
// for recorded outcomes.
type PipelineRunner interface {
	Run(op *operation.Operation)
	Renotify(ctx context.Context, request *deployment.Request, record *database.Deployment)
}

// Receipt is the immediate answer to an admission. Fresh admissions
// carry the newly created pending record; replays carry the record of
// the deployment that already ran, with Duplicate set.
type Receipt struct {
	Deployment *database.Deployment
	Duplicate  bool
}

type Dispatcher struct {
	store           database.DeploymentStore
	runner          PipelineRunner
	pipelineTimeout time.Duration
	roundOnePolicy  string

	locks taskLocks
	wg    sync.WaitGroup
}

func New(store database.DeploymentStore, runner PipelineRunner, pipelineTimeout time.Duration, roundOnePolicy string) *Dispatcher {
	return &Dispatcher{
		store:           store,
		runner:          runner,
		pipelineTimeout: pipelineTimeout,
		roundOnePolicy:  roundOnePolicy,
	}
}

// Admit records a deployment request and starts its pipeline in the
// background, unless the request duplicates one already admitted.
// Exactly one pipeline run is ever started per (task, round, nonce),
// and at most one run per (task, round) is in flight at any time.
func (d *Dispatcher) Admit(ctx context.Context, request *deployment.Request, correlationID string) (*Receipt, error) {
	inserted, err := d.store.WriteAttempt(ctx, database.Attempt{
		Task:          request.Task,
		Round:         request.Round,
		Nonce:         request.Nonce,
		CorrelationID: correlationID,
		Created:       time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("record deployment attempt: %w", err)
	}

	if !inserted {
		return d.replay(ctx, request)
	}

	record := database.Deployment{
		Task:          request.Task,
		Round:         request.Round,
		Status:        database.StatusPending,
		Email:         request.Email,
		CorrelationID: correlationID,
		Created:       time.Now(),
		Updated:       time.Now(),
	}

	created, err := d.store.CreateDeployment(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("create deployment record: %w", err)
	}

	if !created {
		existing, err := d.store.Deployment(ctx, request.Task, request.Round)
		if err != nil {
			return nil, fmt.Errorf("load existing deployment: %w", err)
		}

		if !existing.Status.Terminal() {
			return nil, ErrDeploymentInProgress
		}

		if !d.redeployable(request, existing) {
			return d.duplicateReceipt(request, existing), nil
		}

		reset, err := d.store.ResetDeployment(ctx, request.Task, request.Round, correlationID)
		if err != nil {
			return nil, fmt.Errorf("reset deployment record: %w", err)
		}
		if !reset {
			// lost the reset race to a concurrent admission
			return nil, ErrDeploymentInProgress
		}

		// the reset record keeps its repository references and creation
		// time; run against that, not against the freshly built record
		refreshed, err := d.store.Deployment(ctx, request.Task, request.Round)
		if err != nil {
			return nil, fmt.Errorf("load existing deployment: %w", err)
		}
		record = *refreshed
	}

	d.launch(request, &record)
	return &Receipt{Deployment: &record}, nil
}

// replay answers a resubmission of an already admitted (task, round,
// nonce) triple. The pipeline is never run a second time for the same
// triple.
func (d *Dispatcher) replay(ctx context.Context, request *deployment.Request) (*Receipt, error) {
	existing, err := d.store.Deployment(ctx, request.Task, request.Round)
	if err != nil {
		if database.IsErrNotFound(err) {
			// admitted, but the record has not been created yet
			return nil, ErrDeploymentInProgress
		}
		return nil, fmt.Errorf("load existing deployment: %w", err)
	}

	if !existing.Status.Terminal() {
		return nil, ErrDeploymentInProgress
	}

	return d.duplicateReceipt(request, existing), nil
}

// redeployable reports whether a terminal deployment may be run again
// for a resubmission carrying a fresh nonce. Failed deployments may
// always be retried. Succeeded deployments may only be overwritten on
// round 1, when the redeploy policy allows it.
func (d *Dispatcher) redeployable(request *deployment.Request, existing *database.Deployment) bool {
	if existing.Status == database.StatusFailed {
		return true
	}
	return request.Round == 1 && d.roundOnePolicy == RedeployOverwrite
}

func (d *Dispatcher) duplicateReceipt(request *deployment.Request, record *database.Deployment) *Receipt {
	metrics.DeployDuplicate.Inc()

	if record.Status == database.StatusSucceeded {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), renotifyTimeout)
			defer cancel()
			d.runner.Renotify(ctx, request, record)
		}()
	}

	return &Receipt{Deployment: record, Duplicate: true}
}

func (d *Dispatcher) launch(request *deployment.Request, record *database.Deployment) {
	ctx, cancel := context.WithTimeout(context.Background(), d.pipelineTimeout)
	op := operation.New(ctx, cancel, request, record)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			if recovered := recover(); recovered != nil {
				d.recordPanic(op, recovered)
			}
		}()

		// runs of the same task are serialized so that consecutive
		// rounds never race one repository
		unlock := d.locks.acquire(request.Task)
		defer unlock()

		d.runner.Run(op)
	}()
}

func (d *Dispatcher) recordPanic(op *operation.Operation, recovered interface{}) {
	op.Logger.Errorf("Deployment pipeline panicked: %v", recovered)

	message := fmt.Sprintf("pipeline panic: %v", recovered)
	now := time.Now()
	op.Record.Status = database.StatusFailed
	op.Record.FailureKind = database.FailureInternal
	op.Record.LastError = &message
	op.Record.CompletedAt = &now
	op.Record.Updated = now

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := d.store.WriteDeployment(ctx, *op.Record); err != nil {
		op.Logger.Errorf("Unable to persist deployment record: %s", err)
	}
}

// Janitor periodically deletes attempt rows of terminal deployments
// older than the retention period. Blocks until the context is
// cancelled.
func (d *Dispatcher) Janitor(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := d.store.PruneAttempts(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Errorf("Unable to prune deployment attempts: %s", err)
				continue
			}
			if pruned > 0 {
				log.Infof("Pruned %d deployment attempts", pruned)
			}
		}
	}
}

// Shutdown waits for in-flight pipeline runs and background
// notifications to finish, or for the context to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type taskLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *taskLocks) acquire(task string) func() {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := t.locks[task]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[task] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
