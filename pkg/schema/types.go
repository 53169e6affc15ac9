package schema

import "time"

// Column describes one column of the analyzed table.
type Column struct {
	Name            string
	DataType        string
	Nullable        bool
	Default         *string
	PrimaryKey      bool
	Unique          bool
	OrdinalPosition int
	ForeignKey      *ForeignKey
}

// ForeignKey describes an outgoing reference from a column.
type ForeignKey struct {
	ConstraintName string
	TargetSchema   string
	TargetTable    string
	TargetColumn   string
}

// Constraint is a table-level constraint (PK, FK, CHECK, UNIQUE).
type Constraint struct {
	Name       string
	Type       string
	Definition string
}

// Index describes an index on the analyzed table.
type Index struct {
	Name       string
	Definition string
	Unique     bool
	Primary    bool
}

// Probe holds observed-value statistics for a single column.
// DistinctValues is populated for low-cardinality columns only;
// MinValue/MaxValue for numeric and temporal columns.
type Probe struct {
	Column        string
	DistinctCount int64
	NonNullCount  int64
	DistinctValues []string
	MinValue      *string
	MaxValue      *string
}

// Context is the analyzed snapshot of the target table. It is
// immutable once published; refreshes publish a replacement with a
// higher Version.
type Context struct {
	Schema      string
	Table       string
	Columns     []Column
	Constraints []Constraint
	Indexes     []Index
	RowCount    int64
	TableSize   string
	SampleCols  []string
	SampleRows  [][]string
	Probes      []Probe
	Version     int64
	AnalyzedAt  time.Time
}

// QualifiedName returns schema.table for display.
func (c *Context) QualifiedName() string {
	if c.Schema == "" {
		return c.Table
	}
	return c.Schema + "." + c.Table
}

// Column returns the column with the given name, or nil.
func (c *Context) Column(name string) *Column {
	for i := range c.Columns {
		if c.Columns[i].Name == name {
			return &c.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns the column names in ordinal order.
func (c *Context) ColumnNames() []string {
	names := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		names = append(names, col.Name)
	}
	return names
}

// ProbeFor returns the probe for a column, or nil.
func (c *Context) ProbeFor(column string) *Probe {
	for i := range c.Probes {
		if c.Probes[i].Column == column {
			return &c.Probes[i]
		}
	}
	return nil
}
