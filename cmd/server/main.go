package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Muchemi254/ai-mock-interviewer/internal/archive"
	"github.com/Muchemi254/ai-mock-interviewer/internal/config"
	"github.com/Muchemi254/ai-mock-interviewer/internal/decision"
	"github.com/Muchemi254/ai-mock-interviewer/internal/httpserver"
	"github.com/Muchemi254/ai-mock-interviewer/internal/plan"
	"github.com/Muchemi254/ai-mock-interviewer/internal/session"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	var publisher session.Publisher = archive.LogPublisher{}
	if cfg.ArchiveDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := archive.NewPostgresPublisher(ctx, cfg.ArchiveDSN)
		cancel()
		if err != nil {
			log.Fatalf("postgres archive: %v", err)
		}
		defer pg.Close()
		publisher = pg
	}

	var source plan.Source
	if cfg.MatcherEndpoint != "" {
		source = plan.NewHTTPSource(cfg.MatcherEndpoint, plan.Defaults{
			Min:    cfg.ItemMin,
			Target: cfg.ItemTarget,
			Max:    cfg.ItemMax,
			Weight: cfg.ItemWeight,
		})
	}

	var scorer decision.Scorer = decision.KeywordScorer{}
	if cfg.ScorerEndpoint != "" {
		scorer = decision.NewHTTPScorer(cfg.ScorerEndpoint, cfg.ScorerKey)
	}

	srv := httpserver.New(cfg, httpserver.Deps{
		Registry:  session.NewRegistry(),
		Source:    source,
		Publisher: publisher,
		Scorer:    scorer,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	srv.Drain()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
