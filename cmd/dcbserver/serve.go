package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/api"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/config"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/fulfilment"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/locks"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/obs"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/preflight"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/resolution"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/tracking"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/workflow"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow engine and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			dbOverride, _ := cmd.Flags().GetString("db")
			return runServe(cfgPath, dbOverride)
		},
	}
	return cmd
}

func runServe(cfgPath, dbOverride string) error {
	// Cancel context on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if dbOverride != "" {
		cfg.DBPath = dbOverride
	}

	db, err := storage.Open(ctx, storage.Config{
		Path:         cfg.DBPath,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 20,
		MaxIdleConns: 20,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	logger := obs.NewLogger()
	metrics := obs.NewMetrics()

	requests := storage.NewPatronRequests(db.DB)
	suppliers := storage.NewSupplierRequests(db.DB)
	audits := storage.NewAudits(db.DB)
	reference := storage.NewReference(db.DB)

	// Adapter registration is deployment-specific; host systems register
	// here as their clients come up. The engine tolerates an empty
	// registry, every lookup is individually fallible.
	clients := hostlms.NewRegistry()

	mappings := refmap.NewService(reference)
	catalog := resolution.NewStaticCatalog()
	resolver := resolution.NewResolver(catalog, clients, mappings,
		resolution.Settings{OwnLibraryBorrowing: cfg.OwnLibraryBorrowing}, logger, metrics)

	lockSvc := locks.NewService(db.DB, logger, metrics)
	sweeper := locks.NewSweeper(db.DB, logger, metrics, cfg.LockSweep)

	auditor := workflow.NewAuditor(audits)
	builder := workflow.NewBuilder(requests, suppliers, reference, clients, mappings)
	deps := workflow.Deps{
		Requests:  requests,
		Suppliers: suppliers,
		Reference: reference,
		Clients:   clients,
		Mappings:  mappings,
		Resolver:  resolver,
		Logger:    logger,
	}

	hostname, _ := os.Hostname()
	orch := workflow.NewOrchestrator(deps, builder, auditor, lockSvc, cfg.LockTTL, hostname, logger, metrics)

	pf := preflight.NewPipeline(requests, clients, mappings, preflight.Limits{
		GlobalActiveRequests:    cfg.GlobalRequestLimit,
		PerAgencyActiveRequests: cfg.AgencyRequestLimit,
		DuplicateWindow:         cfg.DuplicateWindow,
	}, metrics)

	svc := fulfilment.NewService(pf, requests, auditor, orch, logger)
	apiServer := api.NewServer(svc)

	tracker := tracking.NewTracker(requests, suppliers, clients, orch, logger, cfg.TrackerInterval)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		tracker.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("dcbserver up addr=%s db=%s", cfg.Addr, cfg.DBPath)
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	wg.Wait()
	log.Printf("dcbserver stopped")
	return nil
}
