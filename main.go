package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/analytical"
	"github.com/querysage-ai/querysage-engine/pkg/audit"
	"github.com/querysage-ai/querysage-engine/pkg/config"
	"github.com/querysage-ai/querysage-engine/pkg/execution"
	"github.com/querysage-ai/querysage-engine/pkg/generator"
	"github.com/querysage-ai/querysage-engine/pkg/graph"
	"github.com/querysage-ai/querysage-engine/pkg/llm"
	"github.com/querysage-ai/querysage-engine/pkg/logging"
	"github.com/querysage-ai/querysage-engine/pkg/memory"
	"github.com/querysage-ai/querysage-engine/pkg/prompts"
	"github.com/querysage-ai/querysage-engine/pkg/retry"
	"github.com/querysage-ai/querysage-engine/pkg/schema"
	"github.com/querysage-ai/querysage-engine/pkg/session"
	"github.com/querysage-ai/querysage-engine/pkg/sqlutil"
	"github.com/querysage-ai/querysage-engine/pkg/verifier"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("engine failed", zap.String("error", logging.Error(err)))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting querysage-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.ConnString(cfg.Database.ConnString())),
		zap.String("target", cfg.Target.Schema+"."+cfg.Target.Table),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model))

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to target database: %w", err)
	}
	defer pool.Close()

	client, err := llm.NewClient(&cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}

	library, err := prompts.Load()
	if err != nil {
		return fmt.Errorf("load prompt library: %w", err)
	}

	analyzer := schema.NewAnalyzer(pool, cfg.Target.Schema, cfg.Target.Table, logger)
	if _, err := analyzer.Analyze(ctx); err != nil {
		return fmt.Errorf("initial schema analysis: %w", err)
	}

	auditor := audit.NewAuditor(logger)
	executor := execution.NewEngine(pool, cfg.Engine.DBTimeout(), logger)
	gen := generator.New(client, library, logger)

	store, err := openMemoryStore(ctx, cfg, pool, client, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	sessions := session.NewRegistry(session.Deps{
		Pool:            pool,
		MemoryStore:     store,
		Embedder:        client,
		TargetSchema:    cfg.Target.Schema,
		TargetTable:     cfg.Target.Table,
		PageSizeDefault: cfg.Engine.PageSizeDefault,
		PageSizeMax:     cfg.Engine.PageSizeMax,
		EditModeDefault: cfg.Engine.EditModeEnabled,
	}, cfg.Engine.SessionIdleTTL(), logger)

	orch := graph.New(graph.Deps{
		Sessions:  sessions,
		Schema:    analyzer,
		Client:    client,
		Library:   library,
		Generator: gen,
		Executor:  executor,
		Verifier:  verifier.New(client, library, auditor, cfg.Target.Table, logger),
		Auditor:   auditor,
		Analytical: func(s *session.Session) graph.AnalyticalRunner {
			return analytical.New(client, library, gen, s.Explorer, executor,
				cfg.Engine.AnalyticalSubquestionsMin, cfg.Engine.AnalyticalSubquestionsMax, logger)
		},
		Engine: cfg.Engine,
		Logger: logger,
	})

	return serveTurnLoop(ctx, orch, logger)
}

// openPool connects to the target database with backoff and registers
// pgvector types on every connection for the memory store.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = cfg.Database.PoolMinConns
	poolCfg.MaxConns = cfg.Database.PoolMaxConns
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	return retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
}

// openMemoryStore prepares the pgvector-backed conversation store. When
// the vector extension is unavailable the engine degrades to the
// file-persisted in-process store rather than failing startup. Returns
// nil when memory is disabled entirely.
func openMemoryStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, embedder llm.Client, logger *zap.Logger) (memory.Store, error) {
	if !cfg.Engine.UseMemory {
		return nil, nil
	}

	probe, err := embedder.CreateEmbedding(ctx, "dimension probe")
	if err != nil {
		return nil, fmt.Errorf("probe embedding dimensions: %w", err)
	}

	pgStore := memory.NewPostgresStore(pool, logger)
	if err := pgStore.EnsureSchema(ctx, len(probe)); err != nil {
		logger.Warn("pgvector memory unavailable, using in-process store",
			zap.String("error", logging.Error(err)))
		fallback, err := memory.NewInMemoryStore(cfg.Engine.MemoryPersistDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open in-process memory store: %w", err)
		}
		return fallback, nil
	}
	return pgStore, nil
}

// serveTurnLoop reads one question per line and writes one envelope JSON
// per line. Commands: \quit exits, \edit on|off toggles the session's
// edit mode, \confirm [tx] re-submits the statements of the last
// edit_sql envelope, \page <table_id> <page> <size> fetches a page.
func serveTurnLoop(ctx context.Context, orch *graph.Orchestrator, logger *zap.Logger) error {
	sessionID := os.Getenv("ENGINE_SESSION_ID")
	if sessionID == "" {
		sessionID = "local"
	}

	var editMode *bool
	var pendingSQL string

	out := bufio.NewWriter(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	logger.Info("turn loop ready", zap.String("session_id", sessionID))

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == `\quit` {
			break
		}

		var envelope *graph.Envelope
		switch {
		case strings.HasPrefix(line, `\edit`):
			on := strings.TrimSpace(strings.TrimPrefix(line, `\edit`)) == "on"
			editMode = &on
			fmt.Fprintf(out, "edit mode: %v\n", on)
			out.Flush()
			continue

		case strings.HasPrefix(line, `\confirm`):
			if pendingSQL == "" {
				fmt.Fprintln(out, "nothing to confirm")
				out.Flush()
				continue
			}
			tx := strings.TrimSpace(strings.TrimPrefix(line, `\confirm`)) == "tx"
			envelope = orch.ExecuteEdit(ctx, sessionID, sqlutil.SplitStatements(pendingSQL), tx)
			pendingSQL = ""

		case strings.HasPrefix(line, `\page`):
			envelope = pageCommand(orch, sessionID, line)

		default:
			envelope = orch.ProcessTurn(ctx, graph.TurnRequest{
				SessionID: sessionID,
				Question:  line,
				EditMode:  editMode,
			})
			editMode = nil
			if envelope.RequiresConfirmation {
				pendingSQL = envelope.SQL
			}
		}

		if err := writeEnvelope(out, envelope); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	logger.Info("turn loop stopped")
	return nil
}

func pageCommand(orch *graph.Orchestrator, sessionID, line string) *graph.Envelope {
	var tableID string
	var page, size int
	if _, err := fmt.Sscanf(line, `\page %s %d %d`, &tableID, &page, &size); err != nil {
		return &graph.Envelope{
			QueryType: graph.QuerySQL,
			Success:   false,
			Text:      `usage: \page <table_id> <page> <size>`,
		}
	}
	return orch.GetPage(sessionID, tableID, page, size)
}

func writeEnvelope(out *bufio.Writer, envelope *graph.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return out.Flush()
}
