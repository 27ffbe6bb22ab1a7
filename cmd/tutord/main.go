// tutord is the tutoring pipeline server: it accepts photographed
// problems, runs the multi-stage analysis pipeline against the
// configured model endpoints, and streams results to clients.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/config"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/gateway"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/graph"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/orchestrator"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/prompt"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/repository"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/service"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/session"
	transport "github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/transport/http"
)

const version = "0.1.0"

// EnvMode selects the model gateway: SNAPTUTOR_MODE=MOCK runs with
// canned responses for local development.
const (
	EnvMode  = "SNAPTUTOR_MODE"
	ModeMock = "MOCK"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tutord",
		Short: "Photo tutoring pipeline server",
	}

	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func serve(cfg *config.Config) error {
	log.Printf("Starting tutord...")
	log.Printf("HTTP Port: %d", cfg.Server.Port)
	log.Printf("Restart policy: %s", cfg.Pipeline.RestartPolicy)

	var store *repository.SQLiteStore
	if cfg.Store.Enabled {
		var err error
		store, err = repository.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()
		log.Printf("Database: %s", cfg.Store.Path)
	}

	gw := newGateway(cfg)
	prompts := prompt.NewBuilder(cfg.Persona)

	var sink orchestrator.TraceSink
	if store != nil {
		sink = store
	}
	orch := orchestrator.New(gw, prompts, sink, cfg.Pipeline)

	registry := session.NewRegistry(graph.Default(), cfg.Pipeline.SubscriberBuffer,
		cfg.Registry.IdleTimeout(), cfg.Registry.JanitorInterval())
	registry.StartJanitor()
	defer registry.Close()

	svc := service.New(registry, orch, store)
	srv := transport.NewServer(svc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Printf("INFO: received signal %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Printf("INFO: server stopped")
	return nil
}

// newGateway returns a mock gateway when SNAPTUTOR_MODE=MOCK,
// otherwise the real model client.
func newGateway(cfg *config.Config) gateway.Gateway {
	if os.Getenv(EnvMode) == ModeMock {
		log.Println("SNAPTUTOR_MODE=MOCK detected, using mock model gateway")
		return gateway.NewMock()
	}
	return gateway.NewClient(cfg.Models)
}
