package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"archaeo-rag/internal/api"
	"archaeo-rag/internal/chromemdb"
	"archaeo-rag/internal/config"
	"archaeo-rag/internal/db"
	"archaeo-rag/internal/embedding"
	"archaeo-rag/internal/extract"
	"archaeo-rag/internal/helper"
	"archaeo-rag/internal/index"
	"archaeo-rag/internal/llmservice"
	"archaeo-rag/internal/models"
	"archaeo-rag/internal/parser"
	"archaeo-rag/internal/rag"
	"archaeo-rag/internal/session"
)

const (
	configFilePath  = "./configs/config.yaml"
	janitorInterval = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the YAML config file")
	filePath := flag.String("file", "", "Path to the document to index")
	query := flag.String("query", "", "Query to be answered")
	serve := flag.Bool("serve", false, "Start the web server")
	exportPath := flag.String("export", "", "Export the vector index to this file")
	importPath := flag.String("import", "", "Replace the vector index with this export")
	dryRun := flag.Bool("dry-run", false, "Dry run, parse and print chunks without indexing")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag, but not both")
	}

	switch {
	case *filePath != "":
		storeFileEmbedding(ctx, cfg, *filePath, *dryRun)
	case *query != "":
		performRAG(ctx, cfg, *query)
	case *exportPath != "":
		exportIndex(ctx, cfg, *exportPath)
	case *importPath != "":
		importIndex(ctx, cfg, *importPath)
	case *serve:
		runServer(ctx, cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// newBackend opens the configured index storage. The returned func releases it.
func newBackend(ctx context.Context, cfg *config.Config) (index.Backend, func(), error) {
	switch cfg.Index.Backend {
	case "postgres":
		dbInstance := db.NewDB(db.ConnectDB(&cfg.Database), cfg.Database.Debug)
		if err := db.InitDB(ctx, dbInstance); err != nil {
			dbInstance.Close()
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return db.NewPGVectorStore(dbInstance, cfg.Index.Collection), func() { dbInstance.Close() }, nil
	default:
		if err := helper.CreateFolder(cfg.Index.Path); err != nil {
			return nil, nil, err
		}
		return chromemdb.NewVectorDBManager(&cfg.Index), func() {}, nil
	}
}

func newManager(ctx context.Context, cfg *config.Config) (*index.Manager, func()) {
	backend, closeBackend, err := newBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening index storage")
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		closeBackend()
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	return index.NewManager(backend, embedder, embedding.ModelTag(&cfg.EmbedLLM)), closeBackend
}

func storeFileEmbedding(ctx context.Context, cfg *config.Config, filePath string, dryRun bool) {
	doc, err := parser.New(cfg).Parse(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing document")
	}
	log.Info().Str("source", doc.Source).Int("chunks", len(doc.Chunks)).Msg("Parsed document")

	if dryRun {
		helper.PrettyPrint(doc.Chunks)
		helper.PrettyPrint(extract.Extract(doc.Source, doc.Text))
		return
	}

	manager, closeBackend := newManager(ctx, cfg)
	defer closeBackend()

	idx, err := manager.Build(ctx, doc.Chunks)
	if err != nil {
		log.Fatal().Err(err).Msg("Error building index")
	}
	log.Info().Interface("manifest", idx.Manifest()).Msg("Index ready")
}

func performRAG(ctx context.Context, cfg *config.Config, query string) {
	manager, closeBackend := newManager(ctx, cfg)
	defer closeBackend()

	idx, err := manager.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading index")
	}

	llm, err := llmservice.NewChatModel(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}

	response, err := rag.NewPipeline(llm, cfg).Ask(ctx, idx, query, models.ModeGeneral)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, c := range response.Citations {
		fmt.Printf("[%d] %s, page %d: %s\n", c.Index, c.Source, c.PageNumber, c.Preview)
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Content)
}

func chromemBackend(backend index.Backend) *chromemdb.VectorDBManager {
	m, ok := backend.(*chromemdb.VectorDBManager)
	if !ok {
		log.Fatal().Msg("Index export and import need the chromem backend")
	}
	return m
}

func exportIndex(ctx context.Context, cfg *config.Config, dst string) {
	backend, closeBackend, err := newBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening index storage")
	}
	defer closeBackend()

	if err := chromemBackend(backend).Export(ctx, dst, cfg.RAG.EncryptionKey); err != nil {
		log.Fatal().Err(err).Msg("Error exporting index")
	}
}

func importIndex(ctx context.Context, cfg *config.Config, src string) {
	backend, closeBackend, err := newBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening index storage")
	}
	defer closeBackend()

	if err := chromemBackend(backend).Import(ctx, src, cfg.RAG.EncryptionKey); err != nil {
		log.Fatal().Err(err).Msg("Error importing index")
	}
}

func runServer(ctx context.Context, cfg *config.Config) {
	logger := log.Logger

	manager, closeBackend := newManager(ctx, cfg)
	defer closeBackend()

	// the UI can still build an index when none is stored yet
	if _, err := manager.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("No usable index loaded at startup")
	}

	llm, err := llmservice.NewChatModel(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}

	sessions := session.NewStore(cfg.Server.SessionTTL)
	stop := make(chan struct{})
	defer close(stop)
	go sessions.Janitor(janitorInterval, stop)

	handler := api.NewHandler(cfg, parser.New(cfg), manager, rag.NewPipeline(llm, cfg), sessions, &logger)
	container, err := api.NewContainer(cfg, handler)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating API")
	}

	server := api.NewServer(cfg, container)
	go func() {
		log.Info().Str("address", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}
