// chronicled is the chronicle server: it ingests calendar events and note
// blocks, indexes and tags them, and serves the activity API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronicle-dev/chronicle/internal/api"
	"github.com/chronicle-dev/chronicle/internal/cleaner"
	"github.com/chronicle-dev/chronicle/internal/config"
	"github.com/chronicle-dev/chronicle/internal/embed"
	"github.com/chronicle-dev/chronicle/internal/index"
	"github.com/chronicle-dev/chronicle/internal/ingest/calendar"
	"github.com/chronicle-dev/chronicle/internal/ingest/notes"
	"github.com/chronicle-dev/chronicle/internal/jobs"
	"github.com/chronicle-dev/chronicle/internal/llm"
	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/processor"
	"github.com/chronicle-dev/chronicle/internal/retrieve"
	"github.com/chronicle-dev/chronicle/internal/storage"
	"github.com/chronicle-dev/chronicle/internal/storage/sqlite"
	"github.com/chronicle-dev/chronicle/internal/tagger"
	"github.com/chronicle-dev/chronicle/internal/taxonomy"
	"github.com/chronicle-dev/chronicle/internal/telemetry"
)

// Build information, injected via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var configPath string

const shutdownDrain = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "chronicled",
		Short:         "Personal activity tracking server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.InitializeWithPath(configPath)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to chronicle.yaml")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending schema migrations and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("chronicled %s (commit %s, built %s)\n", version, commit, date)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chronicled: %v\n", err)
		os.Exit(1)
	}
}

// runMigrate opens the store, which applies the schema and all pending
// migrations, then reports the resulting version.
func runMigrate(ctx context.Context) error {
	store, err := sqlite.New(ctx, config.DBPath(), config.PoolSize())
	if err != nil {
		return err
	}
	defer store.Close()

	v, err := sqlite.SchemaVersion(store.UnderlyingDB())
	if err != nil {
		return err
	}
	fmt.Printf("database %s at schema version %d\n", store.Path(), v)
	return nil
}

// runServe is the composition root: every service is constructed here,
// once, and handed down as an explicit dependency.
func runServe(ctx context.Context) error {
	log, err := logging.Setup(logging.Options{
		Level:  config.GetString("log_level"),
		Format: config.GetString("log_format"),
		File:   config.GetString("log_file"),
	})
	if err != nil {
		return err
	}

	if err := telemetry.Init(ctx, "chronicled", version); err != nil {
		log.Warn("telemetry disabled", "error", err)
	}
	defer telemetry.Shutdown(context.Background())

	db, err := sqlite.New(ctx, config.DBPath(), config.PoolSize())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()
	log.Info("store ready", "path", db.Path(), "pool_size", config.PoolSize())

	// Everything downstream sees the store through the instrumented
	// decorator; with telemetry disabled it is the bare store.
	store := telemetry.WrapStore(db)

	// External collaborators. Each is optional: a missing key disables the
	// LLM path (deterministic fallbacks take over) and a missing embedding
	// provider degrades to the offline hashing embedder.
	var llmClient llm.Client
	if client, err := llm.New(config.LLMAPIKey(), config.GetString("llm.model")); err != nil {
		log.Warn("LLM collaborator disabled, deterministic fallbacks active", "error", err)
	} else {
		llmClient = client
	}

	embedder, err := embed.NewOpenAI(
		config.EmbedAPIKey(),
		config.GetString("embed.model"),
		config.GetInt("embed.dim"),
	)
	if err != nil {
		log.Warn("embedding provider disabled, hashing embedder active", "error", err)
		embedder = embed.NewHash()
	}

	var calendarIngestor *calendar.Ingestor
	if source, err := calendar.NewGoogleSource(ctx, config.GetString("calendar.credentials_path")); err != nil {
		log.Warn("calendar provider disabled", "error", err)
	} else {
		calendarIngestor = calendar.New(store, source)
	}

	var notesIngestor *notes.Ingestor
	if token := config.NotesAPIKey(); token != "" {
		client := notes.NewNotionClient(token, config.GetString("notes.base_url"))
		if n := config.GetInt("notes.page_size"); n > 0 {
			client.PageSize = n
		}
		if d := config.GetDuration("notes.request_delay"); d > 0 {
			client.RequestDelay = d
		}
		notesIngestor = notes.New(store, client, notes.Options{
			BatchSize: config.GetInt("notes.batch_size"),
		})
	} else {
		log.Warn("notes provider disabled: no API key configured")
	}

	// Pipeline services.
	indexer := index.New(store, llmClient, embedder)
	retriever := retrieve.New(store, embedder)
	builder := taxonomy.NewBuilder(store, llmClient, config.GetString("taxonomy.seed_file"))

	tg, err := tagger.New(ctx, store, llmClient, tagger.Options{
		ReviewThreshold: config.GetFloat("tagging.review_threshold"),
		LogFile:         config.GetString("tagging.log_file"),
	})
	if err != nil {
		return fmt.Errorf("creating tagger: %w", err)
	}
	defer tg.Close()
	tg.SetRetriever(retriever)

	watchSeedFile(ctx, store, tg, log)

	tracker := jobs.NewTracker(store)
	proc := processor.New(store, tg, builder, processor.RegenPolicy{
		Enabled: config.GetBool("tagging.regen_enabled"),
		Ratio:   config.GetFloat("tagging.regen_ratio"),
	})
	cl := cleaner.New(store, llmClient)

	server := api.New(api.Config{
		Addr:            config.ListenAddr(),
		Prefix:          config.APIPrefix(),
		AuthToken:       config.AuthToken(),
		DevBypass:       config.IsDevelopment(),
		CORSOrigins:     config.GetStringSlice("cors.origins"),
		CORSCredentials: config.GetBool("cors.credentials"),
		CORSMethods:     config.GetStringSlice("cors.methods"),
		CORSHeaders:     config.GetStringSlice("cors.headers"),
		RateLimits: api.RateLimits{
			Default:    config.GetInt("ratelimit.default"),
			Processing: config.GetInt("ratelimit.processing"),
			Import:     config.GetInt("ratelimit.import"),
		},
		HistoryLimit: config.GetInt("jobs.history_limit"),
	}, api.Services{
		Store:       store,
		Tracker:     tracker,
		Processor:   proc,
		Cleaner:     cl,
		Calendar:    calendarIngestor,
		CalendarIDs: config.GetStringSlice("calendar.ids"),
		Notes:       notesIngestor,
		Indexer:     indexer,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "drain", shutdownDrain)
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// watchSeedFile hot-reloads the taxonomy seed: on change the stored
// artifacts are re-read, the seed re-merged, and the tagger swapped to
// the result. Watch failure is non-fatal.
func watchSeedFile(ctx context.Context, store storage.Store, tg *tagger.Tagger, log *slog.Logger) {
	seedPath := config.GetString("taxonomy.seed_file")
	if seedPath == "" {
		return
	}

	err := taxonomy.WatchSeed(ctx, seedPath, func() {
		tax, syn, _, err := taxonomy.Load(ctx, store)
		if err != nil {
			log.Warn("seed reload: loading stored taxonomy failed", "error", err)
			return
		}
		seed, err := taxonomy.LoadSeedFile(seedPath)
		if err != nil {
			log.Warn("seed reload: parsing seed file failed", "path", seedPath, "error", err)
			return
		}
		if seed != nil {
			tax, syn = seed.Merge(tax, syn)
		}
		tg.SetTaxonomy(tax, syn)
		log.Info("taxonomy seed reloaded", "path", seedPath, "categories", len(tax))
	})
	if err != nil {
		log.Warn("seed watch disabled", "path", seedPath, "error", err)
	}
}
