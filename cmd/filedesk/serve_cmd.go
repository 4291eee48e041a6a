package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"filedesk/api/internal/app"
	"filedesk/api/internal/auth"
	"filedesk/api/internal/config"
	"filedesk/api/internal/feed"
	"filedesk/api/internal/search"
	"filedesk/api/internal/store"
	"filedesk/api/internal/workflow"
)

// backend is what both store implementations provide to the server.
type backend interface {
	workflow.Store
	workflow.StaffDirectory
	feed.EventLister
	store.SeedWriter
	app.Pinger
}

func newServeCmd() *cobra.Command {
	var seedPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log, seedPath)
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "", "JSON file of records and delegations to load before serving")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger, seedPath string) error {
	checks := map[string]app.Pinger{}

	var (
		st       backend
		fallback search.Searcher
		pgfts    *search.PgFTS
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := openPostgres(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer pg.DB().Close()
		st = pg
		pgfts = search.NewPgFTS(pg.DB())
		fallback = pgfts
	default:
		mem := store.NewMemoryStore()
		st = mem
		fallback = search.NewListSearcher(mem)
		log.Warn("filedesk.store.memory: data is lost on restart")
	}
	checks["database"] = st

	if seedPath != "" {
		if err := loadSeedFile(ctx, st, seedPath, log); err != nil {
			return err
		}
	}

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
		index = meili
	}
	searchService := search.NewService(index, fallback, log)
	go searchService.ReindexAllFromPG(ctx, pgfts)

	var (
		source    feed.Source
		publisher workflow.Publisher
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisFeed, err := feed.NewRedisFeed(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisFeed.Close()
		source = redisFeed
		publisher = redisFeed
		checks["redis"] = redisFeed
		log.Info("filedesk.feed: redis streams")
	} else {
		source = feed.NewPollingFeed(st, cfg.FeedPollInterval)
		log.WithField("interval", cfg.FeedPollInterval).Info("filedesk.feed: polling the audit trail")
	}

	wf := workflow.NewService(st, st, workflow.Options{
		Policy:           cfg.Policy(),
		MergeMaxAttempts: cfg.MergeMaxAttempts,
		Logger:           log,
		Publisher:        publisher,
		Indexer:          searchService,
	})
	service := app.NewService(app.Deps{
		Workflow: wf,
		Search:   searchService,
		Feed:     source,
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Checks:   checks,
		FeedWait: cfg.FeedWait,
		Logger:   log,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.FeedWait + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":   cfg.Addr,
			"store":  cfg.StoreBackend,
			"policy": cfg.Policy(),
		}).Info("filedesk.api.listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("filedesk.api.shutdown_error")
	}
	searchService.Wait()
	log.Info("filedesk.api.stopped")
	return nil
}

func loadSeedFile(ctx context.Context, st store.SeedWriter, path string, log logrus.FieldLogger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	n, err := store.LoadSeed(ctx, st, f)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"path": path, "records": n}).Info("filedesk.seed.loaded")
	return nil
}
