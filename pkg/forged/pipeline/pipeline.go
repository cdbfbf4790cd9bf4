// Package pipeline runs admitted deployment requests to completion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/appforge/forge/pkg/forged/assets"
	"github.com/appforge/forge/pkg/forged/database"
	"github.com/appforge/forge/pkg/forged/deployment"
	"github.com/appforge/forge/pkg/forged/generator"
	"github.com/appforge/forge/pkg/forged/hosting"
	"github.com/appforge/forge/pkg/forged/metrics"
	"github.com/appforge/forge/pkg/forged/notifier"
	"github.com/appforge/forge/pkg/forged/operation"
	"github.com/appforge/forge/pkg/forged/strategy"
	"github.com/appforge/forge/pkg/retry"
)

// Stage checkpoints reported through metrics and logs.
const (
	StageAssetsReady = "assets_ready"
	StageGenerated   = "generated"
	StagePublished   = "published"
	StageNotified    = "notified"
)

// Terminal records are written on a fresh context; the operation context
// may already be past its deadline when the outcome is known.
const persistTimeout = time.Second * 5

type Runner struct {
	Store        database.DeploymentStore
	Generator    generator.Client
	Hosting      hosting.Client
	Notifier     notifier.Client
	Policy       retry.Policy
	NotifyPolicy retry.Policy
	LicenseOwner string
}

// Run drives one deployment through asset materialization, generation,
// publishing, and notification, in that order. Outcomes are persisted to
// the store; Run itself never fails.
func (r *Runner) Run(op *operation.Operation) {
	started := time.Now()
	metrics.PipelineStarted()
	defer metrics.PipelineFinished()

	op.Logger.Infof("Starting deployment")

	request := op.Request
	record := op.Record

	finish := func() {
		now := time.Now()
		record.CompletedAt = &now

		if err := r.notify(op); err != nil {
			record.NotificationFailed = true
			op.Logger.Errorf("Unable to notify evaluation endpoint: %s", err)
		}

		r.persist(op)
		metrics.LeadTime(string(record.Status), time.Since(started))
		op.Logger.WithField(deployment.LogFieldStatus, record.Status).Infof("Finished deployment")
	}

	failure := func(kind string, err error) {
		op.Logger.Errorf("Deployment failed: %s", err)
		record.Status = database.StatusFailed
		record.FailureKind = kind
		message := err.Error()
		record.LastError = &message
		metrics.DeployFailed.Inc()
		finish()
	}

	if err := op.Context.Err(); err != nil {
		failure(database.FailureInternal, err)
		return
	}

	record.Status = database.StatusInProgress
	r.persist(op)

	materialized, err := assets.Materialize(request.Attachments)
	if err != nil {
		failure(database.FailureAsset, err)
		return
	}
	metrics.StageTransition(request.Task, StageAssetsReady)
	op.Logger.Infof("Materialized %d attachments", len(materialized))

	resolution, err := strategy.Resolve(op.Context, r.Store, request.Task, request.Round)
	if err != nil {
		if errors.Is(err, strategy.ErrMissingBaseline) {
			failure(database.FailureBaseline, err)
		} else {
			failure(database.FailureInternal, err)
		}
		return
	}

	repository := hosting.RepositoryName(request.Task)
	op.Logger = op.Logger.WithField(deployment.LogFieldRepository, repository)
	op.Logger.Infof("Publishing mode: %s", resolution.Mode)

	baselineDocumentation := ""
	if resolution.Mode == strategy.ModeEnhance {
		baselineDocumentation, err = r.Hosting.Documentation(op.Context, repository)
		if err != nil {
			op.Logger.Warnf("Unable to read documentation of earlier round: %s", err)
			baselineDocumentation = ""
		}
	}

	var bundle *generator.Bundle
	attempts, err := retry.Do(op.Context, r.Policy, func(ctx context.Context) error {
		var err error
		bundle, err = r.Generator.Generate(ctx, &generator.Request{
			Task:                  request.Task,
			Round:                 request.Round,
			Brief:                 request.Brief,
			Checks:                request.Checks,
			Assets:                materialized,
			Enhance:               resolution.Mode == strategy.ModeEnhance,
			BaselineDocumentation: baselineDocumentation,
		})
		return err
	})
	record.AttemptCount += attempts
	if err != nil {
		failure(database.FailureGeneration, err)
		return
	}
	metrics.StageTransition(request.Task, StageGenerated)
	op.Logger.Infof("Generated %d files", len(bundle.Files))

	// Provisional references, so that a deployment interrupted
	// mid-publish still points at the repository it may have touched.
	if expected := r.Hosting.RepositoryURL(repository); len(expected) > 0 {
		record.RepositoryURL = &expected
	}
	if expected := r.Hosting.PagesURL(repository); len(expected) > 0 {
		record.PagesURL = &expected
	}
	r.persist(op)

	var commitSHA, pagesURL string
	attempts, err = retry.Do(op.Context, r.Policy, func(ctx context.Context) error {
		var err error
		commitSHA, pagesURL, err = r.publish(ctx, op, resolution.Mode, repository, bundle, materialized)
		return err
	})
	record.AttemptCount += attempts
	if err != nil {
		failure(database.FailurePublish, err)
		return
	}
	record.CommitSHA = &commitSHA
	if len(pagesURL) > 0 {
		record.PagesURL = &pagesURL
	}
	metrics.StageTransition(request.Task, StagePublished)
	op.Logger.Infof("Published commit %s", commitSHA)

	record.Status = database.StatusSucceeded
	metrics.DeploySuccessful.Inc()
	finish()
}

func (r *Runner) publish(ctx context.Context, op *operation.Operation, mode strategy.Mode, repository string, bundle *generator.Bundle, materialized []assets.Asset) (string, string, error) {
	request := op.Request

	created, err := r.Hosting.EnsureRepository(ctx, repository, firstLine(request.Brief))
	if err != nil {
		return "", "", fmt.Errorf("ensure repository: %w", err)
	}
	if created {
		op.Logger.Infof("Created repository %s", repository)
	}

	message := fmt.Sprintf("Round %d: %s", request.Round, firstLine(request.Brief))
	commitSHA, err := r.Hosting.Commit(ctx, repository, message, r.publishFiles(bundle, materialized), mode == strategy.ModeCreate)
	if err != nil {
		return "", "", fmt.Errorf("commit files: %w", err)
	}

	pagesURL, err := r.Hosting.EnablePages(ctx, repository)
	if err != nil {
		return "", "", fmt.Errorf("enable pages: %w", err)
	}

	return commitSHA, pagesURL, nil
}

func (r *Runner) publishFiles(bundle *generator.Bundle, materialized []assets.Asset) []hosting.File {
	merged := make(map[string][]byte)
	for _, asset := range materialized {
		merged[asset.Name] = asset.Content
	}
	// generated files win over attachments with the same name
	for path, content := range bundle.Files {
		merged[path] = []byte(content)
	}
	license := hosting.License(r.LicenseOwner)
	if _, ok := merged[license.Path]; !ok {
		merged[license.Path] = license.Content
	}

	paths := make([]string, 0, len(merged))
	for path := range merged {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	files := make([]hosting.File, 0, len(paths))
	for _, path := range paths {
		files = append(files, hosting.File{Path: path, Content: merged[path]})
	}
	return files
}

func (r *Runner) notify(op *operation.Operation) error {
	attempts, err := retry.Do(op.Context, r.NotifyPolicy, func(ctx context.Context) error {
		return r.Notifier.Notify(ctx, op.Request.EvaluationURL, notification(op.Request, op.Record))
	})
	op.Record.AttemptCount += attempts
	if err != nil {
		return err
	}
	metrics.StageTransition(op.Request.Task, StageNotified)
	return nil
}

// Renotify re-sends the completion notification of a finished deployment.
func (r *Runner) Renotify(ctx context.Context, request *deployment.Request, record *database.Deployment) {
	logger := log.WithFields(request.LogFields()).WithField(deployment.LogFieldCorrelationID, record.CorrelationID)

	_, err := retry.Do(ctx, r.NotifyPolicy, func(ctx context.Context) error {
		return r.Notifier.Notify(ctx, request.EvaluationURL, notification(request, record))
	})
	if err != nil {
		logger.Errorf("Unable to re-send completion notification: %s", err)
		return
	}
	logger.Infof("Re-sent completion notification")
}

func notification(request *deployment.Request, record *database.Deployment) *notifier.Notification {
	return &notifier.Notification{
		Email:         request.Email,
		Task:          request.Task,
		Round:         request.Round,
		Nonce:         request.Nonce,
		Status:        string(record.Status),
		RepositoryURL: stringValue(record.RepositoryURL),
		CommitSHA:     stringValue(record.CommitSHA),
		PagesURL:      stringValue(record.PagesURL),
	}
}

func (r *Runner) persist(op *operation.Operation) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	op.Record.Updated = time.Now()
	if err := r.Store.WriteDeployment(ctx, *op.Record); err != nil {
		op.Logger.Errorf("Unable to persist deployment record: %s", err)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
