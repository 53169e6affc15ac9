package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func testContext() *Context {
	return &Context{
		Schema: "public",
		Table:  "rates",
		Columns: []Column{
			{Name: "id", DataType: "bigint", PrimaryKey: true, OrdinalPosition: 1},
			{Name: "supplier", DataType: "text", Nullable: true, OrdinalPosition: 2},
			{Name: "country", DataType: "text", Nullable: true, OrdinalPosition: 3},
			{Name: "rate", DataType: "numeric", Nullable: true, OrdinalPosition: 4},
			{Name: "created_at", DataType: "timestamp with time zone", OrdinalPosition: 5,
				ForeignKey: nil},
			{Name: "supplier_id", DataType: "bigint", Nullable: true, OrdinalPosition: 6,
				ForeignKey: &ForeignKey{ConstraintName: "rates_supplier_fk", TargetSchema: "public", TargetTable: "suppliers", TargetColumn: "id"}},
		},
		Constraints: []Constraint{
			{Name: "rates_pkey", Type: "PRIMARY KEY", Definition: "PRIMARY KEY (id)"},
		},
		Indexes: []Index{
			{Name: "rates_pkey", Definition: "CREATE UNIQUE INDEX rates_pkey ON public.rates (id)", Unique: true, Primary: true},
			{Name: "rates_country_idx", Definition: "CREATE INDEX rates_country_idx ON public.rates (country)"},
		},
		RowCount:   25000,
		TableSize:  "4096 kB",
		SampleCols: []string{"id", "supplier", "country", "rate"},
		SampleRows: [][]string{
			{"1", "Acme", "DE", "85.00"},
			{"2", "Globex", "US", "120.00"},
		},
		Probes: []Probe{
			{Column: "country", DistinctCount: 12, DistinctValues: []string{"DE", "FR", "US"}},
			{Column: "rate", DistinctCount: 4100, MinValue: strPtr("10.00"), MaxValue: strPtr("450.00")},
			{Column: "supplier", DistinctCount: 900},
		},
		Version:    3,
		AnalyzedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRenderBlobSections(t *testing.T) {
	blob := RenderBlob(testContext())

	for _, section := range []string{
		"DATABASE TABLE ANALYSIS: public.rates",
		"BASIC INFORMATION:",
		"TABLE STRUCTURE:",
		"COLUMNS:",
		"DATA ANALYSIS:",
		"CONSTRAINTS AND INDEXES:",
		"RELATIONSHIPS:",
		"SAMPLE DATA",
		"RECOMMENDATIONS:",
	} {
		assert.Contains(t, blob, section)
	}
}

func TestRenderBlobColumnDetails(t *testing.T) {
	blob := RenderBlob(testContext())

	assert.Contains(t, blob, "- id: bigint (Nullable: false) [pk]")
	assert.Contains(t, blob, "[fk->public.suppliers.id]")
	assert.Contains(t, blob, "- country: 12 distinct values: DE, FR, US")
	assert.Contains(t, blob, "- rate: range 10.00 to 450.00 (4100 distinct)")
	assert.Contains(t, blob, "supplier_id references public.suppliers(id) via rates_supplier_fk")
	assert.Contains(t, blob, "Row count: 25000")
	assert.Contains(t, blob, "1 | Acme | DE | 85.00")
}

func TestRenderBlobRecommendations(t *testing.T) {
	blob := RenderBlob(testContext())

	assert.Contains(t, blob, "Use id for point lookups")
	assert.Contains(t, blob, "GROUP BY and filters: country")
	assert.Contains(t, blob, "Time-based analysis can use: created_at")
	assert.Contains(t, blob, "Large table")
}

func TestRenderBlobEmptyTable(t *testing.T) {
	c := &Context{
		Schema:     "public",
		Table:      "empty",
		Columns:    []Column{{Name: "id", DataType: "integer", OrdinalPosition: 1}},
		AnalyzedAt: time.Now().UTC(),
	}
	blob := RenderBlob(c)

	assert.Contains(t, blob, "- table is empty")
	assert.Contains(t, blob, "RELATIONSHIPS:\n- none")
	assert.Contains(t, blob, "No special considerations.")
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "public.rates (6 columns, 25000 rows)", Summary(testContext()))
}

func TestQualifiedName(t *testing.T) {
	c := testContext()
	assert.Equal(t, "public.rates", c.QualifiedName())

	c.Schema = ""
	assert.Equal(t, "rates", c.QualifiedName())
}

func TestContextAccessors(t *testing.T) {
	c := testContext()

	col := c.Column("country")
	require.NotNil(t, col)
	assert.Equal(t, "text", col.DataType)
	assert.Nil(t, c.Column("missing"))

	probe := c.ProbeFor("rate")
	require.NotNil(t, probe)
	assert.Equal(t, int64(4100), probe.DistinctCount)
	assert.Nil(t, c.ProbeFor("missing"))

	names := c.ColumnNames()
	assert.Equal(t, []string{"id", "supplier", "country", "rate", "created_at", "supplier_id"}, names)
}
