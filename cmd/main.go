package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"document-qa/internal/api"
	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/llmservice"
	"document-qa/internal/memory"
	"document-qa/internal/models"
	"document-qa/internal/rag"
)

const (
	configFilePath  = "./configs/config.yaml"
	shutdownTimeout = 30 * time.Second
)

type app struct {
	cfg      *config.Config
	store    *chromemdb.Store
	ingester *rag.Ingester
	composer *rag.Composer
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the YAML config file")
	envFile := flag.String("env-file", ".env", "Path to a .env file to load")
	filePaths := flag.String("file", "", "Comma separated document files to ingest")
	query := flag.String("query", "", "Question to be answered")
	mode := flag.String("mode", string(models.ModeDocument), "Answer mode: document or general")
	session := flag.String("session", "", "Conversation session id")
	dryRun := flag.Bool("dry-run", false, "Print the chunks of -file without calling any provider")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Debug().Err(err).Str("file", *envFile).Msg("No env file loaded")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if !*dryRun || !errors.Is(err, models.ErrConfiguration) {
			log.Fatal().Err(err).Msg("Error loading config")
		}
		log.Warn().Err(err).Msg("Invalid config, using defaults for dry run")
		cfg = config.Default()
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dryRun {
		if *filePaths == "" {
			log.Fatal().Msg("Please provide the documents to split using the -file flag")
		}
		printChunks(cfg, readFiles(helper.SplitList(*filePaths)))
		return
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing services")
	}

	if *filePaths == "" && *query == "" {
		if err := a.serve(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
		return
	}

	if *filePaths != "" {
		a.ingestFiles(ctx, readFiles(helper.SplitList(*filePaths)))
	}
	if *query != "" {
		a.answer(ctx, *session, *query, *mode)
	}
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Err(err).Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !cfg.Console {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	}
	zerolog.DefaultContextLogger = &log.Logger
}

func newApp(cfg *config.Config) (*app, error) {
	log.Debug().Interface("rag", cfg.RAG).Interface("memory", cfg.Memory).Msg("Loaded config")

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	provider := embedding.NewProvider(embedder,
		embedding.WithDimension(cfg.RAG.Dimension),
		embedding.WithTimeout(cfg.EmbedLLM.Timeout),
		embedding.WithRetry(cfg.EmbedLLM.Retry.ToRetryOptions()...),
		embedding.WithCache(cfg.RAG.CacheTTL),
	)

	store, err := chromemdb.NewStore(provider,
		chromemdb.WithDimension(cfg.RAG.Dimension),
		chromemdb.WithMinSimilarity(cfg.RAG.MinSimilarity),
	)
	if err != nil {
		return nil, err
	}

	model, err := llmservice.NewModel(&cfg.LLM)
	if err != nil {
		return nil, err
	}
	client := llmservice.NewClient(model, cfg.LLM.Timeout, cfg.LLM.Retry.ToRetryOptions()...)

	sessions := memory.NewRegistry(cfg.Memory.MaxHistory, cfg.Memory.SessionScoped, cfg.Memory.SessionTTL)

	return &app{
		cfg:      cfg,
		store:    store,
		ingester: rag.NewIngester(store, provider, cfg.RAG.ChunkSize, cfg.RAG.EmbedConcurrency),
		composer: rag.NewComposer(store, client, sessions, rag.WithTopK(cfg.RAG.TopK)),
	}, nil
}

func (a *app) serve(ctx context.Context) error {
	handler := api.NewHandler(a.composer, a.ingester, a.store, api.Options{
		MaxUploadSize:  a.cfg.Server.MaxUploadSize,
		ScopedSessions: a.cfg.Memory.SessionScoped,
	})
	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.SetupRouter(handler, log.Logger, a.cfg.Server.RequestTimeout),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	log.Info().Msg("Server stopped gracefully")
	return nil
}

func (a *app) ingestFiles(ctx context.Context, files []rag.File) {
	report, err := a.ingester.Ingest(ctx, files)
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting documents")
	}
	log.Info().Str("status", report.Status).Int("chunks", a.store.Count()).Msg("Ingested documents")
	helper.PrettyPrint(report)
	if report.Status == rag.StatusFailed {
		os.Exit(1)
	}
}

func (a *app) answer(ctx context.Context, sessionID, question, modeFlag string) {
	mode, err := models.ParseMode(modeFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing mode")
	}

	answer, err := a.composer.Answer(ctx, sessionID, question, mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	helper.PrettyPrint(models.PromptResponse{Query: question, Mode: mode, Content: answer})
}

func readFiles(paths []string) []rag.File {
	files := make([]rag.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			log.Fatal().Err(err).Str("file", p).Msg("Error reading file")
		}
		files = append(files, rag.File{Name: filepath.Base(p), Data: data})
	}
	return files
}

func printChunks(cfg *config.Config, files []rag.File) {
	splitter := rag.NewIngester(nil, nil, cfg.RAG.ChunkSize, 1)
	for _, f := range files {
		chunks, err := splitter.Split(f)
		if err != nil {
			log.Error().Err(err).Str("file", f.Name).Msg("Error splitting document")
			continue
		}
		log.Info().Str("file", f.Name).Int("chunks", len(chunks)).Msg("Split document")
		helper.PrettyPrint(chunks)
	}
}
