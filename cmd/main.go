package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/config"
	"pdf-rag/internal/db"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/server"
)

const configFilePath = "./configs/config.yaml"

type vectorStore interface {
	rag.VectorStore
	Close() error
}

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Comma separated list of documents to ingest")
	query := flag.String("query", "", "Question to answer from the ingested documents")
	k := flag.Int("k", 0, "Number of chunks to retrieve (0 uses rag.default_k)")
	export := flag.String("export", "", "Export the chromem collection to this file")
	asJSON := flag.Bool("json", false, "Print the -query response as JSON")
	flag.Parse()

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either documents using the -file flag or a query using the -query flag, but not both")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Console)

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Int("errors", len(errs)).Msg("Invalid configuration")
	}
	log.Debug().
		Str("backend", cfg.Storage.Backend).
		Str("embed_model", cfg.EmbedLLM.Model).
		Str("chat_model", cfg.ChatLLM.Model).
		Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder, err := embedding.New(cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	store, err := openStore(ctx, cfg, embedder)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector store")
	}
	defer store.Close()

	ingestor := rag.NewIngestor(store, parser.NewSplitter(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap))

	switch {
	case *export != "":
		exportCollection(store, *export)
	case *filePath != "":
		if failed := ingestFiles(ctx, ingestor, strings.Split(*filePath, ",")); failed > 0 {
			store.Close()
			os.Exit(1)
		}
	case *query != "":
		answerQuery(ctx, cfg, store, *query, *k, *asJSON)
	default:
		serve(ctx, cfg, ingestor, store)
	}
}

func openStore(ctx context.Context, cfg *config.Config, embedder *embedding.Provider) (vectorStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		return db.Open(ctx, cfg.Storage.DatabaseURL, cfg.Storage.Table, cfg.Storage.Debug, embedder)
	default:
		return chromemdb.Open(cfg.Storage.VectorDir, cfg.Storage.Collection, cfg.Storage.Compress, cfg.Storage.EncryptionKey, embedder)
	}
}

func newQA(cfg *config.Config, store vectorStore) *rag.QA {
	generator, err := llmservice.New(cfg.ChatLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}
	return rag.NewQA(store, generator, cfg.RAG.PreviewWidth)
}

func serve(ctx context.Context, cfg *config.Config, ingestor *rag.Ingestor, store vectorStore) {
	if err := helper.CreateFolder(cfg.Storage.UploadsDir); err != nil {
		log.Fatal().Err(err).Msg("Error creating uploads folder")
	}
	srv := server.New(cfg, ingestor, newQA(cfg, store), store)
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}

// ingestFiles indexes every path, reporting progress on a bar. It returns the number of
// files that could not be ingested.
func ingestFiles(ctx context.Context, ingestor *rag.Ingestor, paths []string) int {
	bar := getProgressBar(len(paths), "Ingesting documents")
	var chunks, failed int
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			bar.Add(1)
			continue
		}
		if !parser.Supported(p) {
			log.Warn().Str("file", p).Msg("Skipping unsupported file")
			failed++
			bar.Add(1)
			continue
		}
		n, err := ingestor.IngestFile(ctx, p)
		if err != nil {
			log.Error().Err(err).Str("file", p).Msg("Error ingesting document")
			failed++
		}
		chunks += n
		bar.Add(1)
	}
	bar.Finish()
	fmt.Println()

	summary := fmt.Sprintf("Indexed %d chunks from %d files", chunks, len(paths)-failed)
	if failed > 0 {
		color.Yellow("%s, %d failed", summary, failed)
	} else {
		color.Green("%s", summary)
	}
	return failed
}

func answerQuery(ctx context.Context, cfg *config.Config, store vectorStore, query string, k int, asJSON bool) {
	if k == 0 {
		k = cfg.RAG.DefaultK
	}
	if k < 1 || k > cfg.RAG.MaxK {
		log.Fatal().Int("k", k).Int("max_k", cfg.RAG.MaxK).Msg("k out of range")
	}

	spinner := getSpinner("Thinking")
	resp, err := newQA(cfg, store).Answer(ctx, query, k)
	spinner.Finish()
	fmt.Println()
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}
	if asJSON {
		helper.PrettyPrint(resp)
		return
	}

	heading := color.New(color.FgCyan, color.Bold)
	heading.Println("Question:")
	fmt.Printf("%s\n\n", query)

	heading.Println("Answer:")
	fmt.Printf("%s\n\n", resp.Answer)

	heading.Println("Sources:")
	printSources(resp.Sources)
}

func printSources(sources []models.Source) {
	if len(sources) == 0 {
		color.HiBlack("  (none)")
		return
	}
	for i, s := range sources {
		fmt.Printf("  %s %s %s\n", color.YellowString("[%d]", i+1), s.Source, color.HiBlackString("page %d", s.Page))
		fmt.Printf("      %s\n", s.Preview)
	}
}

func exportCollection(store vectorStore, path string) {
	cs, ok := store.(*chromemdb.Store)
	if !ok {
		log.Fatal().Msg("Export is only supported by the chromem backend")
	}
	if path != "" {
		if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
			log.Fatal().Err(err).Msg("Error creating export folder")
		}
	}
	out, err := cs.Export(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error exporting collection")
	}
	color.Green("Exported collection to %s", out)
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
