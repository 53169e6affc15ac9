package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/apperrors"
	"github.com/querysage-ai/querysage-engine/pkg/logging"
	"github.com/querysage-ai/querysage-engine/pkg/sqlutil"
)

// Engine runs SQL against the target database. It is stateless;
// result tables live in per-session registries.
type Engine struct {
	pool        *pgxpool.Pool
	stmtTimeout time.Duration
	logger      *zap.Logger
}

// NewEngine creates an execution engine. stmtTimeout bounds each
// statement; zero disables the per-statement deadline.
func NewEngine(pool *pgxpool.Pool, stmtTimeout time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		pool:        pool,
		stmtTimeout: stmtTimeout,
		logger:      logger.Named("execution"),
	}
}

// ExecuteSelect runs a read query and materializes all rows.
// A connection-level failure triggers exactly one retry.
func (e *Engine) ExecuteSelect(ctx context.Context, sql string) (*SelectResult, error) {
	start := time.Now()

	result, err := e.runSelect(ctx, sql)
	if err != nil && isConnectionError(err) && ctx.Err() == nil {
		e.logger.Warn("connection failure, retrying once",
			zap.String("error", logging.Error(err)))
		result, err = e.runSelect(ctx, sql)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.KindTimeout, "query timed out", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, apperrors.Wrap(apperrors.KindCancelled, "query cancelled", err)
		}
		return nil, apperrors.Wrap(apperrors.KindSQLExecutionFailed, "execute select", err)
	}

	result.ElapsedMs = time.Since(start).Milliseconds()
	e.logger.Debug("select executed",
		zap.String("sql", logging.Query(sql)),
		zap.Int("rows", result.TotalRows),
		zap.Int64("elapsed_ms", result.ElapsedMs))
	return result, nil
}

func (e *Engine) runSelect(ctx context.Context, sql string) (*SelectResult, error) {
	ctx, cancel := e.withStatementTimeout(ctx)
	defer cancel()

	rows, err := e.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return &SelectResult{
		Columns:   columns,
		Rows:      resultRows,
		TotalRows: len(resultRows),
	}, nil
}

// ExecuteEdit runs write statements. A single statement in auto mode
// runs directly; multiple statements, or transaction mode, run inside
// one transaction where the first failure rolls everything back.
func (e *Engine) ExecuteEdit(ctx context.Context, sqls []string, mode EditMode) (*EditResult, error) {
	if len(sqls) == 0 {
		return nil, apperrors.New(apperrors.KindSQLExecutionFailed, "no statements to execute")
	}

	start := time.Now()
	useTransaction := mode == EditModeTransaction || len(sqls) > 1

	var result *EditResult
	var err error
	if useTransaction {
		result, err = e.runTransaction(ctx, sqls)
	} else {
		result, err = e.runSingle(ctx, sqls[0])
	}
	if err != nil {
		return nil, err
	}

	for i, stmt := range result.PerStatement {
		if stmt.Success && sqlutil.IsDDL(sqls[i]) {
			result.SchemaChanged = true
		}
	}

	result.ElapsedMs = time.Since(start).Milliseconds()
	e.logger.Info("edit executed",
		zap.String("sql", logging.Query(sqlutil.JoinStatements(sqls))),
		zap.Int("statements", len(sqls)),
		zap.Bool("transaction", result.Transaction),
		zap.Bool("rollback", result.RollbackPerformed),
		zap.Bool("schema_changed", result.SchemaChanged))
	return result, nil
}

func (e *Engine) runSingle(ctx context.Context, sql string) (*EditResult, error) {
	ctx, cancel := e.withStatementTimeout(ctx)
	defer cancel()

	result := &EditResult{Transaction: false}

	tag, err := e.pool.Exec(ctx, sql)
	if err != nil {
		if ctxErr := classifyContextError(ctx, err); ctxErr != nil {
			return nil, ctxErr
		}
		result.PerStatement = []StatementResult{{SQL: sql, Error: err.Error()}}
		result.FailedAtQuery = 1
		return result, nil
	}

	result.PerStatement = []StatementResult{{SQL: sql, Success: true, AffectedRows: tag.RowsAffected()}}
	return result, nil
}

func (e *Engine) runTransaction(ctx context.Context, sqls []string) (*EditResult, error) {
	ctx, cancel := e.withStatementTimeout(ctx)
	defer cancel()

	result := &EditResult{
		Transaction:  true,
		PerStatement: make([]StatementResult, 0, len(sqls)),
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransactionFailed, "begin transaction", err)
	}

	for i, sql := range sqls {
		tag, execErr := tx.Exec(ctx, sql)
		if execErr != nil {
			if ctxErr := classifyContextError(ctx, execErr); ctxErr != nil {
				_ = tx.Rollback(context.WithoutCancel(ctx))
				return nil, ctxErr
			}

			// Mark already-executed statements as rolled back, the
			// failing one with its error, and the rest as skipped.
			for j := range result.PerStatement {
				result.PerStatement[j].Success = false
				result.PerStatement[j].RolledBack = true
			}
			result.PerStatement = append(result.PerStatement, StatementResult{
				SQL: sql, Error: execErr.Error(), RolledBack: true,
			})
			for _, rest := range sqls[i+1:] {
				result.PerStatement = append(result.PerStatement, StatementResult{
					SQL: rest, Skipped: true,
				})
			}
			result.FailedAtQuery = i + 1
			result.RollbackPerformed = true

			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				e.logger.Error("rollback failed", zap.Error(rbErr))
			}
			return result, nil
		}

		result.PerStatement = append(result.PerStatement, StatementResult{
			SQL: sql, Success: true, AffectedRows: tag.RowsAffected(),
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransactionFailed, "commit transaction", err)
	}
	return result, nil
}

func (e *Engine) withStatementTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.stmtTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.stmtTimeout)
}

func classifyContextError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.KindTimeout, "statement timed out", err)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return apperrors.Wrap(apperrors.KindCancelled, "statement cancelled", err)
	default:
		return nil
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"conn closed",
		"broken pipe",
		"unexpected eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// pgTypeNameFromOID maps common PostgreSQL type OIDs to readable names.
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 790:
		return "MONEY"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1083:
		return "TIME"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1186:
		return "INTERVAL"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	case 1009:
		return "TEXT[]"
	case 1007:
		return "INT4[]"
	case 1016:
		return "INT8[]"
	default:
		return "UNKNOWN"
	}
}
