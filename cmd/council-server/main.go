// Command council-server hosts the HTTP API for the deliberation
// orchestrator: conversation CRUD, streaming chat requests that fan out
// to the council, and a title-update subscription feed. Startup validates
// that every configured model endpoint actually answers before the
// server accepts traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/config"
	"github.com/Dbillionaer/llm-council-local/pkg/council"
	"github.com/Dbillionaer/llm-council-local/pkg/llmclient"
	"github.com/Dbillionaer/llm-council-local/pkg/logging"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
	"github.com/Dbillionaer/llm-council-local/pkg/persistence"
	"github.com/Dbillionaer/llm-council-local/pkg/title"
)

func main() {
	configPath := flag.String("config", "council.yaml", "path to the configuration document")
	addr := flag.String("addr", ":8080", "address to listen on")
	dbPath := flag.String("db", "", "path to a bbolt database file; empty uses an in-memory store")
	skipValidation := flag.Bool("skip-model-check", false, "skip the startup check that every model endpoint answers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("failed to load configuration from %s: %v", *configPath, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logging.Error("invalid configuration: %v", err)
		os.Exit(1)
	}

	client := llmclient.NewOpenAIClient()

	if !*skipValidation {
		if err := validateModels(client, *cfg); err != nil {
			logging.Error("startup model validation failed: %v", err)
			if ckerrors.Is(err, ckerrors.KindModelNotLoaded) {
				os.Exit(3)
			}
			os.Exit(2)
		}
	}

	var store persistence.Store
	if *dbPath != "" {
		bolt, err := persistence.NewBoltStore(*dbPath)
		if err != nil {
			logging.Error("failed to open database at %s: %v", *dbPath, err)
			os.Exit(1)
		}
		store = bolt
	} else {
		store = persistence.NewMemoryStore()
	}
	defer store.Close()

	resolver := func(modelID string) models.ModelEndpoint {
		return config.ResolveEndpoint(modelID, *cfg)
	}
	ctrl := council.NewController(client, resolver)

	titleEndpoint := config.ResolveEndpoint(cfg.Models.Chairman, *cfg)
	titleSvc := title.NewService(store, title.DefaultGenerator(client, titleEndpoint), titleEndpoint.ModelID, cfg.TitleGeneration.ThinkingHints, cfg.TitleGeneration.MaxConcurrent, cfg.TitleGeneration.RetryAttempts)
	titleSvc.Start()
	defer titleSvc.Stop()
	if err := titleSvc.Rescan(context.Background()); err != nil {
		logging.Warn("title rescan failed: %v", err)
	}

	srv := newServer(cfg, store, ctrl, titleSvc)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: srv.routes(),
	}

	go func() {
		logging.Info("council-server listening on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("server error: %v", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logging.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("graceful shutdown failed: %v", err)
	}
}

// validateModels fetches the model list from every backend a configured
// endpoint resolves to and fails fast, before the server accepts traffic,
// if fewer than len(council)+1 models are loaded or any configured model
// id is missing from what the backend reports loaded
// (original_source/backend/model_validator.py:validate_configured_models).
// A backend that cannot be reached at all is a distinct failure from one
// that answers but hasn't loaded the right models, so callers can map the
// two to different process exit codes.
func validateModels(client llmclient.Client, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids := make([]string, 0, len(cfg.Models.CouncilMembers)+1)
	for _, m := range cfg.Models.CouncilMembers {
		ids = append(ids, m.ModelID)
	}
	ids = append(ids, cfg.Models.Chairman)

	available := make(map[string]bool)
	seenBackend := make(map[string]bool)
	for _, id := range ids {
		endpoint := config.ResolveEndpoint(id, cfg)
		key := fmt.Sprintf("%s|%s|%d", endpoint.BaseURL, endpoint.IPAddress, endpoint.Port)
		if seenBackend[key] {
			continue
		}
		seenBackend[key] = true

		loaded, err := client.ListModels(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("listing models for %s: %w", id, err)
		}
		for _, m := range loaded {
			available[m] = true
		}
	}

	required := len(cfg.Models.CouncilMembers) + 1
	if len(available) < required {
		return ckerrors.New(ckerrors.KindModelNotLoaded, "", fmt.Sprintf("backend reports %d models loaded, need at least %d (%d council + chairman)", len(available), required, len(cfg.Models.CouncilMembers)))
	}

	var missing []string
	for _, id := range ids {
		if !available[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return ckerrors.New(ckerrors.KindModelNotLoaded, strings.Join(missing, ", "), "configured model id(s) not found among loaded models")
	}
	return nil
}
