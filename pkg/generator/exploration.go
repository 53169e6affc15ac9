package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Probe limits. Wide columns (countries, regions) legitimately carry more
// distinct values than the default cap would show.
const (
	defaultProbeLimit = 30
	wideProbeLimit    = 50
)

// wideColumnHints mark column names whose full value set matters for exact
// WHERE-clause spelling.
var wideColumnHints = []string{"country", "region", "state", "city", "currency", "language"}

// Explorer probes distinct column values so generation can match the exact
// spelling and casing present in the data. Probe results are cached per
// schema version; a schema bump changes the key and the stale entry ages out.
type Explorer struct {
	pool   *pgxpool.Pool
	schema string
	table  string
	probes *gocache.Cache
	logger *zap.Logger
}

// NewExplorer creates an explorer for the given table.
func NewExplorer(pool *pgxpool.Pool, schemaName, tableName string, logger *zap.Logger) *Explorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Explorer{
		pool:   pool,
		schema: schemaName,
		table:  tableName,
		probes: gocache.New(1*time.Hour, 10*time.Minute),
		logger: logger.Named("exploration"),
	}
}

// Explore probes the focus columns and renders an "Observed values" prompt
// section. Probe failures are logged and the column skipped; an empty result
// yields an empty string.
func (e *Explorer) Explore(ctx context.Context, focusColumns []string, schemaVersion int64) string {
	var lines []string
	for _, column := range focusColumns {
		column = strings.TrimSpace(column)
		if column == "" {
			continue
		}
		values, err := e.probe(ctx, column, schemaVersion)
		if err != nil {
			e.logger.Warn("column probe failed",
				zap.String("column", column),
				zap.Error(err))
			continue
		}
		if len(values) == 0 {
			continue
		}
		line := fmt.Sprintf("%s: %s", column, strings.Join(values, ", "))
		if len(values) >= probeLimit(column) {
			line += " (sampled)"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Observed values:\n" + strings.Join(lines, "\n")
}

func (e *Explorer) probe(ctx context.Context, column string, schemaVersion int64) ([]string, error) {
	key := fmt.Sprintf("v%d:%s", schemaVersion, column)
	if cached, found := e.probes.Get(key); found {
		return cached.([]string), nil
	}

	quotedCol := pgx.Identifier{column}.Sanitize()
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s LIMIT %d",
		quotedCol, e.qualifiedTable(), quotedCol, quotedCol, probeLimit(column))

	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("probe distinct values for %s: %w", column, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value any
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan probe value: %w", err)
		}
		values = append(values, fmt.Sprintf("%v", value))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate probe values: %w", err)
	}

	e.probes.Set(key, values, gocache.DefaultExpiration)
	return values, nil
}

func (e *Explorer) qualifiedTable() string {
	return pgx.Identifier{e.schema}.Sanitize() + "." + pgx.Identifier{e.table}.Sanitize()
}

// probeLimit picks the DISTINCT cap for a column. Wide columns get the
// larger cap so the prompt sees the full value set.
func probeLimit(column string) int {
	lower := strings.ToLower(column)
	for _, hint := range wideColumnHints {
		if strings.Contains(lower, hint) {
			return wideProbeLimit
		}
	}
	return defaultProbeLimit
}
