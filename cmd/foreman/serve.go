package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/amonks/foreman/internal/config"
	"github.com/amonks/foreman/runner"
	"github.com/amonks/foreman/session"
	"github.com/amonks/foreman/web"
	"github.com/spf13/cobra"
)

// persistInterval bounds worst-case durability staleness independently
// of the store's mutation-triggered debounced writes.
const persistInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session orchestration daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var serveConfigPath string

func init() {
	rootCmd.AddCommand(serveCmd)
	bindConfigFlag(serveCmd.Flags(), &serveConfigPath)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	store, err := session.Open(cfg.StorePath(), session.Options{})
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := runner.New(store, cfg)
	dispatcher := runner.NewDispatcher(store, r.Run, runner.DispatcherOptions{
		MaxConcurrent: cfg.MaxConcurrentSessions,
	})
	go dispatcher.Start(ctx)

	go func() {
		ticker := time.NewTicker(persistInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.PersistNow(); err != nil {
					log.Printf("periodic persist: %v", err)
				}
			}
		}
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: web.NewHandler(store),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("foreman listening on :%d", cfg.APIPort)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		stop()
		dispatcher.Wait()
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("final flush: %v", closeErr)
		}
		return fmt.Errorf("http server: %w", err)
	}

	// Let in-flight sessions settle, then flush state one last time.
	dispatcher.Wait()
	if err := store.Close(); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}
