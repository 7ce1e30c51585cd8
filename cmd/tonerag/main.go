// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/tonerag"
	"github.com/poiesic/tonerag/ai"
	"github.com/poiesic/tonerag/ai/openai"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/ingestion"
	"github.com/poiesic/tonerag/respond"
	"github.com/poiesic/tonerag/retry"
	"github.com/urfave/cli/v2"
)

// newProvider builds the AI provider for commands that need one.
var newProvider = openai.NewProvider

func main() {
	if err := loadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadDotEnv loads path into the environment when it exists. Variables
// already set win over the file.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tonerag",
		Usage: "Rephrase messages in a gentler tone using retrieved conversation examples",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"TONERAG_LOG_LEVEL"},
			},
		}, append(storeFlags(), aiFlags()...)...),
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Embed new corpus files into the vector index",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "corpus",
						Aliases:  []string{"c"},
						Usage:    "Directory holding the JSON conversation corpus",
						EnvVars:  []string{"TONERAG_CORPUS"},
						Required: true,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents embedded per request",
						Value: ingestion.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of files parsed concurrently (0 = half the CPUs)",
					},
					&cli.IntFlag{
						Name:  "max-attempts",
						Usage: "Maximum attempts per batch on transient errors",
						Value: retry.DefaultMaxAttempts,
					},
					&cli.DurationFlag{
						Name:  "base-delay",
						Usage: "First retry delay; doubles on each attempt",
						Value: retry.DefaultBaseDelay,
					},
					&cli.DurationFlag{
						Name:  "max-delay",
						Usage: "Longest single retry delay",
						Value: retry.DefaultMaxDelay,
					},
					&cli.Float64Flag{
						Name:  "rate-limit",
						Usage: "Maximum embedding requests per second (0 = unlimited)",
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: ingestion.DefaultBatchSize,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the run summary as JSON",
					},
				},
			},
			{
				Name:      "chat",
				Usage:     "Rephrase a message",
				ArgsUsage: "<message>",
				Action:    chatCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Aliases:  []string{"u"},
						Usage:    "User id recorded with the message",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "tone",
						Usage: "Tone to rephrase in",
						Value: respond.DefaultTone,
					},
					&cli.StringFlag{
						Name:  "language",
						Usage: "Language the reply must be in",
						Value: respond.DefaultLanguage,
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of similar utterances used as context",
						Value: respond.DefaultTopK,
					},
					&cli.IntFlag{
						Name:  "max-chars",
						Usage: "Maximum characters per rephrasing",
						Value: respond.DefaultMaxChars,
					},
					&cli.IntFlag{
						Name:  "candidates",
						Usage: "Number of rephrasings to ask for",
						Value: respond.DefaultCandidates,
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Show retrieved context and the raw model output",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the response as JSON",
					},
				},
			},
			{
				Name:   "history",
				Usage:  "List a user's recent messages",
				Action: historyCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Aliases:  []string{"u"},
						Usage:    "User id to list",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of entries",
						Value: 10,
					},
				},
			},
			{
				Name:   "reconcile",
				Usage:  "Record index-resident files missing from the ledger",
				Action: reconcileCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the result as JSON",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show index, ledger and chat log counts",
				Action: statsCommand,
			},
		},
	}
}

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "ledger",
			Usage:   "Path to the sqlite ledger database",
			Value:   "tonerag.sqlite3",
			EnvVars: []string{"TONERAG_LEDGER"},
		},
		&cli.StringFlag{
			Name:    "index-path",
			Usage:   "Directory of the embedded vector index",
			Value:   "vector_db",
			EnvVars: []string{"TONERAG_INDEX_PATH"},
		},
		&cli.StringFlag{
			Name:    "backend",
			Usage:   "Vector index backend (chromem, badger, qdrant)",
			Value:   string(tonerag.BackendChromem),
			EnvVars: []string{"TONERAG_BACKEND"},
		},
		&cli.StringFlag{
			Name:    "collection",
			Usage:   "Vector index collection name",
			Value:   "persona_chat",
			EnvVars: []string{"TONERAG_COLLECTION"},
		},
		&cli.StringFlag{
			Name:    "qdrant-host",
			Usage:   "Qdrant gRPC host",
			Value:   "localhost",
			EnvVars: []string{"QDRANT_HOST"},
		},
		&cli.IntFlag{
			Name:    "qdrant-port",
			Usage:   "Qdrant gRPC port",
			Value:   6334,
			EnvVars: []string{"QDRANT_PORT"},
		},
		&cli.StringFlag{
			Name:    "qdrant-api-key",
			Usage:   "Qdrant API key",
			EnvVars: []string{"QDRANT_API_KEY"},
		},
		&cli.BoolFlag{
			Name:    "qdrant-tls",
			Usage:   "Use TLS for Qdrant",
			EnvVars: []string{"QDRANT_TLS"},
		},
		&cli.IntFlag{
			Name:    "dimensions",
			Usage:   "Embedding dimensions (0 = model default)",
			EnvVars: []string{"TONERAG_DIMENSIONS"},
		},
	}
}

func aiFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "embedding-host",
			Usage:   "Embedding service host URL",
			Value:   "https://api.openai.com/v1",
			EnvVars: []string{"TONERAG_EMBEDDING_HOST"},
		},
		&cli.StringFlag{
			Name:    "chat-host",
			Usage:   "Chat completion service host URL (defaults to embedding-host)",
			EnvVars: []string{"TONERAG_CHAT_HOST"},
		},
		&cli.StringFlag{
			Name:    "embedding-model",
			Usage:   "Embedding model name",
			Value:   "text-embedding-3-small",
			EnvVars: []string{"TONERAG_EMBEDDING_MODEL"},
		},
		&cli.StringFlag{
			Name:    "chat-model",
			Usage:   "Chat model name",
			Value:   "gpt-4o-mini",
			EnvVars: []string{"TONERAG_CHAT_MODEL"},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "API key for the embedding and chat hosts",
			EnvVars: []string{"OPENAI_API_KEY"},
		},
		&cli.Float64Flag{
			Name:  "temperature",
			Usage: "Sampling temperature for chat completions",
			Value: 0.7,
		},
	}
}

func aiConfig(c *cli.Context) *ai.Config {
	embeddingHost := c.String("embedding-host")
	chatHost := c.String("chat-host")
	if chatHost == "" {
		chatHost = embeddingHost
	}
	return ai.NewConfig(
		ai.WithEmbeddingHost(embeddingHost),
		ai.WithChatHost(chatHost),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithChatModel(c.String("chat-model")),
		ai.WithAPIToken(c.String("api-key")),
		ai.WithTemperature(c.Float64("temperature")),
		ai.WithDimensions(c.Int("dimensions")),
	)
}

func openSystem(c *cli.Context) (*tonerag.System, error) {
	cfg := tonerag.NewConfig(
		tonerag.WithLedgerPath(c.String("ledger")),
		tonerag.WithIndexPath(c.String("index-path")),
		tonerag.WithIndexBackend(tonerag.IndexBackend(c.String("backend"))),
		tonerag.WithCollectionName(c.String("collection")),
		tonerag.WithQdrant(c.String("qdrant-host"), c.Int("qdrant-port"), c.String("qdrant-api-key"), c.Bool("qdrant-tls")),
		tonerag.WithEmbeddingDimensions(c.Int("dimensions")),
		tonerag.WithAIConfig(aiConfig(c)),
	)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.AI.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	provider, err := newProvider(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI provider: %w", err)
	}

	sys, err := tonerag.NewSystem(c.Context, cfg, tonerag.WithProvider(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to open stores: %w", err)
	}
	return sys, nil
}

func ingestCommand(c *cli.Context) error {
	if c.Int("batch-size") <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if c.Int("report-interval") <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}

	policy, err := retry.NewPolicy(
		retry.WithMaxAttempts(c.Int("max-attempts")),
		retry.WithBaseDelay(c.Duration("base-delay")),
		retry.WithMaxDelay(c.Duration("max-delay")),
		retry.WithRetryable(ai.IsTransient),
	)
	if err != nil {
		return fmt.Errorf("invalid retry settings: %w", err)
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	opts := []ingestion.Option{
		ingestion.WithBatchSize(c.Int("batch-size")),
		ingestion.WithRetryPolicy(policy),
		ingestion.WithRateLimit(c.Float64("rate-limit"), 1),
		ingestion.WithProgress(c.App.ErrWriter, c.Int("report-interval")),
	}
	if n := c.Int("workers"); n > 0 {
		opts = append(opts, ingestion.WithPoolSize(n))
	}

	pipeline, err := sys.NewPipeline(c.String("corpus"), opts...)
	if err != nil {
		return err
	}
	defer pipeline.Release()

	fmt.Fprintf(c.App.ErrWriter, "Corpus: %s\n", c.String("corpus"))
	fmt.Fprintf(c.App.ErrWriter, "Index: %s (%s)\n", c.String("backend"), c.String("collection"))
	fmt.Fprintf(c.App.ErrWriter, "Ledger: %s\n", c.String("ledger"))

	summary, err := pipeline.Run(c.Context)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	if c.Bool("json") {
		return writeJSON(c.App.Writer, summary)
	}
	w := c.App.Writer
	fmt.Fprintf(w, "New documents:      %d\n", summary.NewDocuments)
	fmt.Fprintf(w, "Existing documents: %d\n", summary.ExistingDocuments)
	fmt.Fprintf(w, "Files succeeded:    %d\n", summary.SuccessFiles)
	fmt.Fprintf(w, "Files failed:       %d\n", summary.FailedFiles)
	fmt.Fprintf(w, "Files skipped:      %d\n", summary.SkippedFiles)
	for _, b := range summary.FailedBatches {
		fmt.Fprintf(w, "Failed batch:       %d-%d\n", b.Start+1, b.End)
	}
	for _, path := range summary.IncompleteFiles {
		fmt.Fprintf(w, "Incomplete file:    %s\n", path)
	}
	fmt.Fprintf(w, "Elapsed:            %s\n", summary.Duration.Round(time.Millisecond))
	return nil
}

// chatOutput mirrors a stored chat log entry for JSON output.
type chatOutput struct {
	MessageID         int64     `json:"message_id"`
	UserID            string    `json:"user_id"`
	OriginalMessage   string    `json:"original_message"`
	TranslatedMessage string    `json:"translated_message"`
	Candidates        []string  `json:"candidates"`
	Truncated         int       `json:"truncated_candidates"`
	FullResponse      string    `json:"full_response"`
	Matched           bool      `json:"matched"`
	Degraded          bool      `json:"degraded"`
	CreatedAt         time.Time `json:"created_at"`
}

func chatCommand(c *cli.Context) error {
	message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if message == "" {
		return fmt.Errorf("a message is required")
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	responder, err := sys.NewResponder(
		respond.WithTopK(c.Int("top-k")),
		respond.WithMaxChars(c.Int("max-chars")),
		respond.WithCandidates(c.Int("candidates")),
		respond.WithLanguage(c.String("language")),
	)
	if err != nil {
		return err
	}

	var monitor respond.Monitor
	if c.Bool("verbose") {
		monitor = &printMonitor{w: c.App.ErrWriter}
	}

	resp, err := responder.RespondWithMonitor(c.Context, respond.Request{
		UserID:  c.String("user"),
		Message: message,
		Tone:    c.String("tone"),
	}, monitor)
	if errors.Is(err, core.ErrNotReady) {
		return fmt.Errorf("%w (run the ingest command)", err)
	}
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return writeJSON(c.App.Writer, chatOutput{
			MessageID:         resp.Entry.ID,
			UserID:            resp.Entry.UserID,
			OriginalMessage:   resp.Entry.InputContent,
			TranslatedMessage: resp.TranslatedMessage,
			Candidates:        resp.Candidates,
			Truncated:         resp.Truncated,
			FullResponse:      resp.RawOutput,
			Matched:           resp.Matched,
			Degraded:          resp.Degraded,
			CreatedAt:         resp.Entry.CreatedAt,
		})
	}
	fmt.Fprintln(c.App.Writer, resp.TranslatedMessage)
	return nil
}

// printMonitor writes each responder stage to w.
type printMonitor struct {
	w io.Writer
}

func (m *printMonitor) Start(req respond.Request) {
	fmt.Fprintf(m.w, "Message: %s\nTone: %s\n", req.Message, req.Tone)
}

func (m *printMonitor) AfterRetrieval(results []*core.SearchResult) {
	fmt.Fprintf(m.w, "Context (%d):\n", len(results))
	for i, r := range results {
		fmt.Fprintf(m.w, "  %d: %s [%0.3f]\n", i+1, r.Content, r.Score)
	}
}

func (m *printMonitor) AfterCompletion(raw string, err error) {
	if err != nil {
		fmt.Fprintf(m.w, "Model error: %v\n", err)
		return
	}
	fmt.Fprintf(m.w, "Raw output: %s\n", raw)
}

func (m *printMonitor) Finish(resp *respond.Response) {
	if !resp.Matched && !resp.Degraded {
		fmt.Fprintln(m.w, "Output did not match the reply format; using it whole")
	}
}

func historyCommand(c *cli.Context) error {
	if c.Int("limit") <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	responder, err := sys.NewResponder()
	if err != nil {
		return err
	}
	entries, err := responder.History(c.Context, c.String("user"), c.Int("limit"))
	if err != nil {
		return err
	}

	for _, e := range entries {
		fmt.Fprintf(c.App.Writer, "%d\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt.Local().Format(time.DateTime), e.InputContent, e.TranslatedContent)
	}
	return nil
}

func reconcileCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	reconciler, err := sys.NewReconciler()
	if err != nil {
		return err
	}
	result, err := reconciler.Reconcile(c.Context)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	if c.Bool("json") {
		return writeJSON(c.App.Writer, result)
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Files in index:  %d\n", result.TotalInIndex)
	fmt.Fprintf(w, "Files in ledger: %d\n", result.AlreadyTracked)
	fmt.Fprintf(w, "Newly recorded:  %d\n", result.NewlyAdded)
	for _, path := range result.NewFiles {
		fmt.Fprintf(w, "  %s\n", path)
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	stats, err := sys.Stats(c.Context)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, stats)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
