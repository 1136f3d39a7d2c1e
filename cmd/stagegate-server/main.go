package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/sirupsen/logrus"

	"github.com/stagegate/stagegate/internal/api"
	"github.com/stagegate/stagegate/internal/application"
	"github.com/stagegate/stagegate/internal/config"
	"github.com/stagegate/stagegate/internal/domain"
	"github.com/stagegate/stagegate/internal/infrastructure/goworkflows"
	"github.com/stagegate/stagegate/internal/infrastructure/sqlite"
	"github.com/stagegate/stagegate/internal/infrastructure/syncworkflow"
	"github.com/stagegate/stagegate/internal/logger"
)

func main() {
	cfg, err := config.New(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("loading configuration")
	}

	log, err := logger.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("setting up logging")
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.Config, log logrus.FieldLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	releaseRepo := &sqlite.ReleaseRepo{DB: db}
	stageRepo := &sqlite.StageRepo{DB: db}
	artifactRepo := &sqlite.ArtifactRepo{DB: db}
	recordRepo := &sqlite.DeployRecordRepo{DB: db}
	deployer := &sqlite.RecordingDeployer{Records: recordRepo}

	wf := &domain.PromotionWorkflow{
		Releases: releaseRepo,
		Stages:   stageRepo,
		Deployer: deployer,
		Policies: cfg.StagePolicies,
	}

	engine, shutdownEngine, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer shutdownEngine()

	runner, err := engine.PromotionRunner(wf)
	if err != nil {
		return err
	}

	promotions := &application.PromotionService{
		Releases:  releaseRepo,
		Stages:    stageRepo,
		Artifacts: artifactRepo,
		Deployer:  deployer,
		Policies:  cfg.StagePolicies,
		Promotion: runner,
		Records:   recordRepo,
		Log:       log,
	}
	artifacts := &application.ArtifactService{Artifacts: artifactRepo}

	apiServer := api.NewServer(promotions, artifacts, log)
	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: apiServer.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":   srv.Addr,
			"engine": cfg.Engine,
			"db":     cfg.DBPath,
		}).Info("stagegate listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	apiServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newEngine selects the workflow engine. The durable engine runs a
// go-workflows worker against an in-process backend so in-flight soak
// timers survive handler returns; the sync engine executes promotions
// inline and suits tests and single-shot tooling.
func newEngine(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (domain.WorkflowEngine, func(), error) {
	if cfg.Engine == "sync" {
		return &syncworkflow.Engine{}, func() {}, nil
	}

	var b backend.Backend = wfsqlite.NewInMemoryBackend()
	w := worker.New(b, nil)
	workerCtx, cancel := context.WithCancel(ctx)
	if err := w.Start(workerCtx); err != nil {
		cancel()
		return nil, nil, err
	}

	shutdown := func() {
		cancel()
		if err := w.WaitForCompletion(); err != nil {
			log.WithError(err).Warn("workflow worker shutdown")
		}
	}
	return &goworkflows.Engine{Worker: w, Client: client.New(b)}, shutdown, nil
}
