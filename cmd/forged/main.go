package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/appforge/forge/pkg/conftools"
	"github.com/appforge/forge/pkg/forged/api"
	"github.com/appforge/forge/pkg/forged/config"
	"github.com/appforge/forge/pkg/forged/database"
	"github.com/appforge/forge/pkg/forged/dispatch"
	"github.com/appforge/forge/pkg/forged/generator"
	"github.com/appforge/forge/pkg/forged/hosting"
	"github.com/appforge/forge/pkg/forged/logproxy"
	"github.com/appforge/forge/pkg/forged/notifier"
	"github.com/appforge/forge/pkg/forged/pipeline"
	"github.com/appforge/forge/pkg/logging"
	"github.com/appforge/forge/pkg/retry"
	"github.com/appforge/forge/pkg/version"
)

var maskedConfig = []string{
	config.DatabaseUrl,
	config.GeneratorToken,
	config.GithubToken,
	config.Secret,
}

const (
	databaseConnectBackoffInterval = 3 * time.Second
	attemptPruneInterval           = time.Hour
	shutdownGracePeriod            = 30 * time.Second
)

func run() error {
	cfg := config.Initialize()
	err := conftools.Load("forged", cfg)
	if err != nil {
		return err
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	// Welcome
	log.Infof("forged %s", version.Version())
	ts, err := version.BuildTime()
	if err == nil {
		log.Infof("This version was built %s", ts.Local())
	}

	for _, line := range conftools.Format(maskedConfig) {
		log.Info(line)
	}

	if len(cfg.Secret) == 0 {
		return fmt.Errorf("no pre-shared secret configured; refusing to accept deployment requests")
	}

	switch cfg.RoundOneRedeploy {
	case dispatch.RedeployOverwrite, dispatch.RedeployReject:
	default:
		return fmt.Errorf("round-one-redeploy must be either '%s' or '%s'", dispatch.RedeployOverwrite, dispatch.RedeployReject)
	}

	store, err := setupStore(cfg)
	if err != nil {
		return err
	}

	hostingClient, err := setupHosting(cfg)
	if err != nil {
		return err
	}

	runner := &pipeline.Runner{
		Store:     store,
		Generator: setupGenerator(cfg),
		Hosting:   hostingClient,
		Notifier:  notifier.New(cfg.NotificationTimeout),
		Policy: retry.Policy{
			Attempts:  cfg.Retry.Attempts,
			BaseDelay: cfg.Retry.BaseDelay,
			MaxDelay:  cfg.Retry.MaxDelay,
			Jitter:    cfg.Retry.Jitter,
		},
		NotifyPolicy: retry.Policy{
			Attempts:  cfg.Retry.NotifyAttempts,
			BaseDelay: cfg.Retry.BaseDelay,
			MaxDelay:  cfg.Retry.MaxDelay,
			Jitter:    cfg.Retry.Jitter,
		},
		LicenseOwner: cfg.Github.Owner,
	}

	dispatcher := dispatch.New(store, runner, cfg.PipelineTimeout, cfg.RoundOneRedeploy)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go dispatcher.Janitor(janitorCtx, cfg.AttemptRetention, attemptPruneInterval)

	router := api.New(api.Config{
		Admitter:        dispatcher,
		BaseURL:         cfg.BaseURL,
		DeploymentStore: store,
		Hosting:         hostingClient,
		Kibana: logproxy.Config{
			URL:   cfg.Kibana.URL,
			Index: cfg.Kibana.Index,
		},
		MetricsPath: cfg.MetricsPath,
		Secret:      cfg.Secret,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: router,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err)
		}
	}()

	log.Infof("Ready to accept connections")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals

	log.Infof("Received signal %s (%d), exiting...", sig, sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP server shutdown: %s", err)
	}

	stopJanitor()

	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Shutdown grace period expired with deployment pipelines still in flight")
	} else {
		log.Infof("All deployment pipelines drained")
	}

	return nil
}

func setupStore(cfg *config.Config) (database.DeploymentStore, error) {
	if len(cfg.DatabaseURL) == 0 {
		log.Warnf("Database connection is not configured; deployment state is kept in memory and lost on restart")
		return database.NewMemoryStore(), nil
	}

	var db *database.Database
	var err error

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DatabaseConnectTimeout)
	defer cancel()
	for {
		log.Infof("Connecting to database...")
		db, err = database.New(ctx, cfg.DatabaseURL)
		if err == nil {
			log.Infof("Database connection established.")
			break
		} else if ctx.Err() != nil {
			break
		} else {
			log.Errorf("unable to connect to database: %s", err)
			time.Sleep(databaseConnectBackoffInterval)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("setup postgres connection: %s", err)
	}

	err = db.Migrate(context.Background())
	if err != nil {
		return nil, fmt.Errorf("migrating database: %s", err)
	}

	return db, nil
}

func setupHosting(cfg *config.Config) (hosting.Client, error) {
	if !cfg.Github.Enabled {
		log.Warnf("GitHub publishing is disabled; all deployment requests will fail at the publish stage")
		return hosting.FakeClient(), nil
	}

	if len(cfg.Github.Token) == 0 || len(cfg.Github.Owner) == 0 {
		return nil, fmt.Errorf("GitHub publishing requires both a token and an owner")
	}

	client, err := hosting.TokenClient(context.Background(), cfg.Github.Token, cfg.Github.Owner, cfg.Github.BaseURL, cfg.Github.PagesBranch)
	if err != nil {
		return nil, fmt.Errorf("setup GitHub client: %s", err)
	}

	return client, nil
}

func setupGenerator(cfg *config.Config) generator.Client {
	if len(cfg.Generator.URL) == 0 || len(cfg.Generator.Token) == 0 {
		log.Warnf("Generation service is not configured; all deployment requests will fail at the generation stage")
		return generator.FakeClient()
	}

	return generator.New(cfg.Generator.URL, cfg.Generator.Token, cfg.Generator.Model, cfg.Generator.Timeout)
}

func main() {
	err := run()
	if err != nil {
		log.Errorf("Fatal error: %s", err)
		os.Exit(1)
	}
}
