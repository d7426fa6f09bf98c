package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"document-qna/internal/config"
	"document-qna/internal/embedding"
	"document-qna/internal/extract"
	"document-qna/internal/helper"
	"document-qna/internal/ingest"
	"document-qna/internal/models"
	"document-qna/internal/rag"
	"document-qna/internal/server"
	"document-qna/internal/store"
	"document-qna/internal/store/chromemdb"
	"document-qna/internal/store/postgres"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	serve := flag.Bool("serve", false, "Run the HTTP server")
	filePath := flag.String("file", "", "Path to a document file to ingest")
	query := flag.String("query", "", "Question to answer")
	docID := flag.String("doc", "", "Document id scope for -query (empty means whole corpus)")
	reprocess := flag.Bool("reprocess", false, "Re-ingest the -doc document from its stored text")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	st, err := openStore(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector store")
	}
	defer st.Close()

	encoder, err := embedding.NewEncoder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	runner := ingest.NewRunner(st, encoder, ingest.Options{
		ChunkSize:     cfg.RAG.ChunkSize,
		Workers:       cfg.RAG.Workers,
		StoreAttempts: cfg.RAG.StoreAttempts,
		RetryBackoff:  time.Duration(cfg.RAG.RetryBackoffMS) * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	ragService := rag.NewRAG(st, encoder, &cfg.InferenceLLM, cfg.RAG.TopK)

	switch {
	case *serve:
		srv := server.New(st, runner, ragService)
		if err := srv.ListenAndServe(cfg.Server.Addr); err != nil {
			log.Fatal().Err(err).Msg("Error running server")
		}
	case *filePath != "":
		ingestFile(ctx, st, runner, *filePath)
	case *query != "":
		askQuestion(ctx, ragService, *docID, *query)
	case *reprocess && *docID != "":
		reprocessDocument(ctx, st, runner, *docID)
	default:
		log.Fatal().Msg("Provide -serve, -file, or -query (see -help)")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.VectorStore, error) {
	if cfg.Store.Driver == "postgres" {
		sqldb, err := postgres.Connect(&cfg.Database)
		if err != nil {
			return nil, err
		}
		return postgres.New(ctx, sqldb, cfg.RAG.Metric, cfg.Database.Debug)
	}
	return chromemdb.New(cfg.Store.Path, cfg.Store.Collection, false, cfg.RAG.Metric)
}

// ingestFile extracts, creates, and ingests a document, then waits for the
// pipeline to reach a terminal state so the CLI can report the outcome.
func ingestFile(ctx context.Context, st store.VectorStore, runner *ingest.Runner, filePath string) {
	extractor, err := extract.ForFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error selecting extractor")
	}
	text, err := extractor.Extract(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error extracting text")
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		log.Fatal().Err(err).Msg("Error generating document id")
	}
	doc := &models.Document{ID: id, Name: filePath, Content: text, Status: models.StatusReceived}
	if err := st.CreateDocument(ctx, doc); err != nil {
		log.Fatal().Err(err).Msg("Error creating document")
	}
	if err := runner.Begin(id, text, false); err != nil {
		log.Fatal().Err(err).Msg("Error starting ingestion")
	}

	status := waitForIngestion(ctx, runner, id)
	helper.PrettyPrint(map[string]string{"document_id": id, "status": string(status)})
}

func reprocessDocument(ctx context.Context, st store.VectorStore, runner *ingest.Runner, docID string) {
	doc, err := st.Document(ctx, docID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading document")
	}
	if err := runner.Begin(docID, doc.Content, true); err != nil {
		log.Fatal().Err(err).Msg("Error starting reprocessing")
	}
	status := waitForIngestion(ctx, runner, docID)
	helper.PrettyPrint(map[string]string{"document_id": docID, "status": string(status)})
}

func waitForIngestion(ctx context.Context, runner *ingest.Runner, docID string) models.DocumentStatus {
	for {
		status, cause, err := runner.Status(ctx, docID)
		if err != nil {
			log.Fatal().Err(err).Msg("Error checking ingestion status")
		}
		if status.Terminal() {
			if status == models.StatusFailed {
				log.Error().Str("cause", cause).Msg("Ingestion failed")
			}
			return status
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func askQuestion(ctx context.Context, ragService *rag.RAG, docID, query string) {
	answer, retrieved, err := ragService.Answer(ctx, docID, query)
	if errors.Is(err, rag.ErrEmptyContext) {
		log.Warn().Msg("No context found for the question")
		fmt.Println("No information found for this question.")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", retrieved.Text)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer)
}
