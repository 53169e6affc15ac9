package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/querysage-ai/querysage-engine/pkg/apperrors"
)

const (
	sampleRowLimit = 10

	// Columns with at most this many distinct values get their full
	// value list probed and injected into prompts.
	lowCardinalityThreshold = 30

	probeValueLimit = 50
)

// qualifiedTableName returns a properly quoted table reference.
// If schemaName is empty, returns just the quoted table name.
func qualifiedTableName(schemaName, tableName string) string {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return quotedTable
	}
	return pgx.Identifier{schemaName}.Sanitize() + "." + quotedTable
}

// Analyzer introspects one target table and publishes Context
// snapshots. Snapshots are shared process-wide; Current is safe for
// concurrent readers while Analyze/Refresh serialize writers.
type Analyzer struct {
	pool   *pgxpool.Pool
	schema string
	table  string
	logger *zap.Logger

	mu      sync.RWMutex
	current *Context
	version int64
}

// NewAnalyzer creates an analyzer for a single schema.table target.
// If logger is nil, a no-op logger is used.
func NewAnalyzer(pool *pgxpool.Pool, schemaName, tableName string, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		pool:   pool,
		schema: schemaName,
		table:  tableName,
		logger: logger.Named("schema"),
	}
}

// Current returns the most recently published snapshot, or nil before
// the first successful Analyze.
func (a *Analyzer) Current() *Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Version returns the version of the current snapshot (0 before the
// first analysis).
func (a *Analyzer) Version() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// Analyze performs a full introspection of the target table and
// publishes a new snapshot with a bumped version.
func (a *Analyzer) Analyze(ctx context.Context) (*Context, error) {
	start := time.Now()

	snapshot, err := a.collect(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindSchemaRefreshFailed, "analyze table", err)
	}

	a.mu.Lock()
	a.version++
	snapshot.Version = a.version
	a.current = snapshot
	a.mu.Unlock()

	a.logger.Info("table analyzed",
		zap.String("table", snapshot.QualifiedName()),
		zap.Int("columns", len(snapshot.Columns)),
		zap.Int64("row_count", snapshot.RowCount),
		zap.Int64("version", snapshot.Version),
		zap.Duration("elapsed", time.Since(start)))

	return snapshot, nil
}

// Refresh updates the snapshot after a schema change. It first tries
// an incremental pass (columns, constraints, indexes, row count;
// probes and samples reused for unchanged columns). If that fails, it
// falls back to a full re-analysis. The version is bumped either way.
func (a *Analyzer) Refresh(ctx context.Context, hint string) (*Context, error) {
	a.mu.RLock()
	prev := a.current
	a.mu.RUnlock()

	if prev == nil {
		return a.Analyze(ctx)
	}

	snapshot, err := a.incremental(ctx, prev)
	if err != nil {
		a.logger.Warn("incremental refresh failed, running full re-analysis",
			zap.String("hint", hint),
			zap.Error(err))
		return a.Analyze(ctx)
	}

	a.mu.Lock()
	a.version++
	snapshot.Version = a.version
	a.current = snapshot
	a.mu.Unlock()

	a.logger.Info("schema refreshed incrementally",
		zap.String("hint", hint),
		zap.Int64("version", snapshot.Version))

	return snapshot, nil
}

// collect runs the full introspection pipeline.
func (a *Analyzer) collect(ctx context.Context) (*Context, error) {
	snapshot := &Context{
		Schema:     a.schema,
		Table:      a.table,
		AnalyzedAt: time.Now().UTC(),
	}

	columns, err := a.introspectColumns(ctx)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found or has no columns", a.schema, a.table)
	}
	snapshot.Columns = columns

	fks, err := a.introspectForeignKeys(ctx)
	if err != nil {
		return nil, err
	}
	attachForeignKeys(snapshot.Columns, fks)

	if snapshot.Constraints, err = a.introspectConstraints(ctx); err != nil {
		return nil, err
	}
	if snapshot.Indexes, err = a.introspectIndexes(ctx); err != nil {
		return nil, err
	}
	if snapshot.RowCount, snapshot.TableSize, err = a.tableStats(ctx); err != nil {
		return nil, err
	}
	if snapshot.SampleCols, snapshot.SampleRows, err = a.sampleRows(ctx); err != nil {
		return nil, err
	}

	snapshot.Probes = a.probeColumns(ctx, snapshot.Columns)
	return snapshot, nil
}

// incremental re-reads structure and stats but reuses probes and
// samples for columns whose name and type survived unchanged.
func (a *Analyzer) incremental(ctx context.Context, prev *Context) (*Context, error) {
	snapshot := &Context{
		Schema:     a.schema,
		Table:      a.table,
		AnalyzedAt: time.Now().UTC(),
	}

	columns, err := a.introspectColumns(ctx)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s disappeared", a.schema, a.table)
	}
	snapshot.Columns = columns

	fks, err := a.introspectForeignKeys(ctx)
	if err != nil {
		return nil, err
	}
	attachForeignKeys(snapshot.Columns, fks)

	if snapshot.Constraints, err = a.introspectConstraints(ctx); err != nil {
		return nil, err
	}
	if snapshot.Indexes, err = a.introspectIndexes(ctx); err != nil {
		return nil, err
	}
	if snapshot.RowCount, snapshot.TableSize, err = a.tableStats(ctx); err != nil {
		return nil, err
	}

	unchanged := unchangedColumns(prev.Columns, columns)
	snapshot.Probes = reuseProbes(prev.Probes, unchanged)

	var changed []Column
	for _, col := range columns {
		if !unchanged[col.Name] {
			changed = append(changed, col)
		}
	}
	if len(changed) > 0 {
		snapshot.Probes = append(snapshot.Probes, a.probeColumns(ctx, changed)...)
	}

	if sameColumnSet(prev.Columns, columns) {
		snapshot.SampleCols = prev.SampleCols
		snapshot.SampleRows = prev.SampleRows
	} else if snapshot.SampleCols, snapshot.SampleRows, err = a.sampleRows(ctx); err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (a *Analyzer) introspectColumns(ctx context.Context) ([]Column, error) {
	const query = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' as is_nullable,
			COALESCE(pk.is_pk, false) as is_primary_key,
			COALESCE(uq.is_unique, false) as is_unique,
			c.ordinal_position,
			c.column_default
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT a.attname as column_name, true as is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary = true
			  AND n.nspname = $1
			  AND t.relname = $2
		) pk ON c.column_name = pk.column_name
		LEFT JOIN (
			SELECT a.attname as column_name, true as is_unique
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisunique = true
			  AND ix.indisprimary = false
			  AND n.nspname = $1
			  AND t.relname = $2
			  AND array_length(ix.indkey, 1) = 1
		) uq ON c.column_name = uq.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

	rows, err := a.pool.Query(ctx, query, a.schema, a.table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.PrimaryKey, &c.Unique, &c.OrdinalPosition, &c.Default); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (a *Analyzer) introspectForeignKeys(ctx context.Context) ([]fkRow, error) {
	const query = `
		SELECT
			tc.constraint_name,
			kcu.column_name as source_column,
			ccu.table_schema as target_schema,
			ccu.table_name as target_table,
			ccu.column_name as target_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1
		  AND tc.table_name = $2
	`

	rows, err := a.pool.Query(ctx, query, a.schema, a.table)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []fkRow
	for rows.Next() {
		var fk fkRow
		if err := rows.Scan(&fk.constraintName, &fk.sourceColumn, &fk.targetSchema, &fk.targetTable, &fk.targetColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}

type fkRow struct {
	constraintName string
	sourceColumn   string
	targetSchema   string
	targetTable    string
	targetColumn   string
}

func attachForeignKeys(columns []Column, fks []fkRow) {
	for _, fk := range fks {
		for i := range columns {
			if columns[i].Name == fk.sourceColumn {
				columns[i].ForeignKey = &ForeignKey{
					ConstraintName: fk.constraintName,
					TargetSchema:   fk.targetSchema,
					TargetTable:    fk.targetTable,
					TargetColumn:   fk.targetColumn,
				}
			}
		}
	}
}

func (a *Analyzer) introspectConstraints(ctx context.Context) ([]Constraint, error) {
	const query = `
		SELECT con.conname, con.contype::text, pg_get_constraintdef(con.oid)
		FROM pg_constraint con
		JOIN pg_class t ON t.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = $1 AND t.relname = $2
		ORDER BY con.conname
	`

	rows, err := a.pool.Query(ctx, query, a.schema, a.table)
	if err != nil {
		return nil, fmt.Errorf("query constraints: %w", err)
	}
	defer rows.Close()

	var constraints []Constraint
	for rows.Next() {
		var c Constraint
		var contype string
		if err := rows.Scan(&c.Name, &contype, &c.Definition); err != nil {
			return nil, fmt.Errorf("scan constraint: %w", err)
		}
		c.Type = constraintTypeName(contype)
		constraints = append(constraints, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate constraints: %w", err)
	}
	return constraints, nil
}

func constraintTypeName(contype string) string {
	switch contype {
	case "p":
		return "PRIMARY KEY"
	case "f":
		return "FOREIGN KEY"
	case "u":
		return "UNIQUE"
	case "c":
		return "CHECK"
	case "x":
		return "EXCLUSION"
	default:
		return strings.ToUpper(contype)
	}
}

func (a *Analyzer) introspectIndexes(ctx context.Context) ([]Index, error) {
	const query = `
		SELECT i.indexname, i.indexdef, ix.indisunique, ix.indisprimary
		FROM pg_indexes i
		JOIN pg_class c ON c.relname = i.indexname
		JOIN pg_index ix ON ix.indexrelid = c.oid
		WHERE i.schemaname = $1 AND i.tablename = $2
		ORDER BY i.indexname
	`

	rows, err := a.pool.Query(ctx, query, a.schema, a.table)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", err)
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var idx Index
		if err := rows.Scan(&idx.Name, &idx.Definition, &idx.Unique, &idx.Primary); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes: %w", err)
	}
	return indexes, nil
}

func (a *Analyzer) tableStats(ctx context.Context) (int64, string, error) {
	tableRef := qualifiedTableName(a.schema, a.table)

	var rowCount int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tableRef)
	if err := a.pool.QueryRow(ctx, countQuery).Scan(&rowCount); err != nil {
		return 0, "", fmt.Errorf("count rows: %w", err)
	}

	var size string
	const sizeQuery = `SELECT pg_size_pretty(pg_total_relation_size(($1::text || '.' || $2::text)::regclass))`
	if err := a.pool.QueryRow(ctx, sizeQuery, a.schema, a.table).Scan(&size); err != nil {
		// Size is informational only; keep going without it.
		a.logger.Debug("table size lookup failed", zap.Error(err))
		size = "unknown"
	}

	return rowCount, size, nil
}

func (a *Analyzer) sampleRows(ctx context.Context) ([]string, [][]string, error) {
	tableRef := qualifiedTableName(a.schema, a.table)
	query := fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, tableRef, sampleRowLimit)

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("sample rows: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	var sampled [][]string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("read sample row: %w", err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatSampleValue(v)
		}
		sampled = append(sampled, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate sample rows: %w", err)
	}
	return cols, sampled, nil
}

func formatSampleValue(v any) string {
	if v == nil {
		return "NULL"
	}
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(t))
	default:
		s := fmt.Sprintf("%v", t)
		if len(s) > 120 {
			s = s[:117] + "..."
		}
		return s
	}
}

// probeColumns gathers per-column value statistics. A failing probe is
// logged and skipped rather than failing the whole analysis.
func (a *Analyzer) probeColumns(ctx context.Context, columns []Column) []Probe {
	tableRef := qualifiedTableName(a.schema, a.table)

	var probes []Probe
	for _, col := range columns {
		quotedCol := pgx.Identifier{col.Name}.Sanitize()

		probe := Probe{Column: col.Name}
		statsQuery := fmt.Sprintf(`
			SELECT COUNT(DISTINCT %s), COUNT(%s)
			FROM %s
		`, quotedCol, quotedCol, tableRef)
		if err := a.pool.QueryRow(ctx, statsQuery).Scan(&probe.DistinctCount, &probe.NonNullCount); err != nil {
			a.logger.Warn("column probe failed",
				zap.String("column", col.Name),
				zap.Error(err))
			continue
		}

		switch {
		case probe.DistinctCount > 0 && probe.DistinctCount <= lowCardinalityThreshold:
			values, err := a.distinctValues(ctx, col.Name, probeValueLimit)
			if err != nil {
				a.logger.Warn("distinct value probe failed",
					zap.String("column", col.Name),
					zap.Error(err))
			} else {
				probe.DistinctValues = values
			}
		case isRangeProbeType(col.DataType):
			minVal, maxVal, err := a.minMax(ctx, col.Name)
			if err != nil {
				a.logger.Warn("min/max probe failed",
					zap.String("column", col.Name),
					zap.Error(err))
			} else {
				probe.MinValue = minVal
				probe.MaxValue = maxVal
			}
		}

		probes = append(probes, probe)
	}
	return probes
}

// distinctValues returns up to limit distinct non-null values, cast to
// text and sorted.
func (a *Analyzer) distinctValues(ctx context.Context, column string, limit int) ([]string, error) {
	tableRef := qualifiedTableName(a.schema, a.table)
	quotedCol := pgx.Identifier{column}.Sanitize()

	query := fmt.Sprintf(`
		SELECT DISTINCT %s::text
		FROM %s
		WHERE %s IS NOT NULL
		ORDER BY 1
		LIMIT $1
	`, quotedCol, tableRef, quotedCol)

	rows, err := a.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get distinct values for %s: %w", column, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var val string
		if err := rows.Scan(&val); err != nil {
			return nil, fmt.Errorf("scan distinct value: %w", err)
		}
		values = append(values, val)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct values: %w", err)
	}
	return values, nil
}

func (a *Analyzer) minMax(ctx context.Context, column string) (*string, *string, error) {
	tableRef := qualifiedTableName(a.schema, a.table)
	quotedCol := pgx.Identifier{column}.Sanitize()

	query := fmt.Sprintf(`SELECT MIN(%s)::text, MAX(%s)::text FROM %s`, quotedCol, quotedCol, tableRef)

	var minVal, maxVal *string
	if err := a.pool.QueryRow(ctx, query).Scan(&minVal, &maxVal); err != nil {
		return nil, nil, fmt.Errorf("min/max for %s: %w", column, err)
	}
	return minVal, maxVal, nil
}

var rangeProbeTypes = map[string]bool{
	"smallint": true, "integer": true, "bigint": true,
	"numeric": true, "real": true, "double precision": true,
	"money": true,
	"date": true, "timestamp without time zone": true,
	"timestamp with time zone": true, "time without time zone": true,
	"time with time zone": true,
}

func isRangeProbeType(dataType string) bool {
	return rangeProbeTypes[strings.ToLower(dataType)]
}

func unchangedColumns(prev, next []Column) map[string]bool {
	prevTypes := make(map[string]string, len(prev))
	for _, c := range prev {
		prevTypes[c.Name] = c.DataType
	}
	unchanged := make(map[string]bool, len(next))
	for _, c := range next {
		if t, ok := prevTypes[c.Name]; ok && t == c.DataType {
			unchanged[c.Name] = true
		}
	}
	return unchanged
}

func reuseProbes(prev []Probe, unchanged map[string]bool) []Probe {
	var kept []Probe
	for _, p := range prev {
		if unchanged[p.Column] {
			kept = append(kept, p)
		}
	}
	return kept
}

func sameColumnSet(prev, next []Column) bool {
	if len(prev) != len(next) {
		return false
	}
	for i := range prev {
		if prev[i].Name != next[i].Name || prev[i].DataType != next[i].DataType {
			return false
		}
	}
	return true
}
