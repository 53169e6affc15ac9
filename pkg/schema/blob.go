package schema

import (
	"fmt"
	"strings"
)

// RenderBlob produces the human-readable table description injected
// verbatim into prompts.
func RenderBlob(c *Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "DATABASE TABLE ANALYSIS: %s\n\n", c.QualifiedName())

	b.WriteString("BASIC INFORMATION:\n")
	fmt.Fprintf(&b, "- Database: PostgreSQL\n")
	fmt.Fprintf(&b, "- Table: %s\n", c.QualifiedName())
	fmt.Fprintf(&b, "- Analysis date: %s\n\n", c.AnalyzedAt.Format("2006-01-02 15:04:05 UTC"))

	b.WriteString("TABLE STRUCTURE:\n")
	fmt.Fprintf(&b, "- Column count: %d\n", len(c.Columns))
	fmt.Fprintf(&b, "- Data types: %s\n\n", strings.Join(dataTypeSummary(c.Columns), ", "))

	b.WriteString("COLUMNS:\n")
	for _, col := range c.Columns {
		fmt.Fprintf(&b, "- %s: %s (Nullable: %t)", col.Name, col.DataType, col.Nullable)
		if col.PrimaryKey {
			b.WriteString(" [pk]")
		}
		if col.Unique && !col.PrimaryKey {
			b.WriteString(" [unique]")
		}
		if col.ForeignKey != nil {
			fmt.Fprintf(&b, " [fk->%s.%s.%s]", col.ForeignKey.TargetSchema, col.ForeignKey.TargetTable, col.ForeignKey.TargetColumn)
		}
		if col.Default != nil {
			fmt.Fprintf(&b, " default %s", *col.Default)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("DATA ANALYSIS:\n")
	fmt.Fprintf(&b, "- Row count: %d\n", c.RowCount)
	fmt.Fprintf(&b, "- Table size: %s\n", c.TableSize)
	for _, p := range c.Probes {
		switch {
		case len(p.DistinctValues) > 0:
			fmt.Fprintf(&b, "- %s: %d distinct values: %s\n", p.Column, p.DistinctCount, strings.Join(p.DistinctValues, ", "))
		case p.MinValue != nil && p.MaxValue != nil:
			fmt.Fprintf(&b, "- %s: range %s to %s (%d distinct)\n", p.Column, *p.MinValue, *p.MaxValue, p.DistinctCount)
		default:
			fmt.Fprintf(&b, "- %s: %d distinct values\n", p.Column, p.DistinctCount)
		}
	}
	b.WriteString("\n")

	b.WriteString("CONSTRAINTS AND INDEXES:\n")
	if len(c.Constraints) == 0 && len(c.Indexes) == 0 {
		b.WriteString("- none\n")
	}
	for _, con := range c.Constraints {
		fmt.Fprintf(&b, "- %s %s: %s\n", con.Type, con.Name, con.Definition)
	}
	for _, idx := range c.Indexes {
		if idx.Primary {
			continue // already listed as a constraint
		}
		fmt.Fprintf(&b, "- INDEX %s: %s\n", idx.Name, idx.Definition)
	}
	b.WriteString("\n")

	b.WriteString("RELATIONSHIPS:\n")
	rels := relationships(c.Columns)
	if len(rels) == 0 {
		b.WriteString("- none\n")
	}
	for _, r := range rels {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	b.WriteString("\n")

	b.WriteString("SAMPLE DATA")
	if len(c.SampleRows) == 0 {
		b.WriteString(":\n- table is empty\n")
	} else {
		fmt.Fprintf(&b, " (%d rows):\n", len(c.SampleRows))
		fmt.Fprintf(&b, "%s\n", strings.Join(c.SampleCols, " | "))
		for _, row := range c.SampleRows {
			fmt.Fprintf(&b, "%s\n", strings.Join(row, " | "))
		}
	}
	b.WriteString("\n")

	b.WriteString("RECOMMENDATIONS:\n")
	for _, r := range recommendations(c) {
		fmt.Fprintf(&b, "- %s\n", r)
	}

	return b.String()
}

// Summary returns a one-line table description for lightweight prompts.
func Summary(c *Context) string {
	return fmt.Sprintf("%s (%d columns, %d rows)", c.QualifiedName(), len(c.Columns), c.RowCount)
}

func dataTypeSummary(columns []Column) []string {
	seen := make(map[string]bool)
	var types []string
	for _, c := range columns {
		if !seen[c.DataType] {
			seen[c.DataType] = true
			types = append(types, c.DataType)
		}
	}
	return types
}

func relationships(columns []Column) []string {
	var rels []string
	for _, c := range columns {
		if c.ForeignKey != nil {
			rels = append(rels, fmt.Sprintf("%s references %s.%s(%s) via %s",
				c.Name, c.ForeignKey.TargetSchema, c.ForeignKey.TargetTable,
				c.ForeignKey.TargetColumn, c.ForeignKey.ConstraintName))
		}
	}
	return rels
}

// recommendations emits deterministic query-writing hints derived from
// the snapshot.
func recommendations(c *Context) []string {
	var recs []string

	for _, col := range c.Columns {
		if col.PrimaryKey {
			recs = append(recs, fmt.Sprintf("Use %s for point lookups and stable ordering.", col.Name))
			break
		}
	}

	var lowCard []string
	for _, p := range c.Probes {
		if len(p.DistinctValues) > 0 {
			lowCard = append(lowCard, p.Column)
		}
	}
	if len(lowCard) > 0 {
		recs = append(recs, fmt.Sprintf("Columns suited for GROUP BY and filters: %s.", strings.Join(lowCard, ", ")))
	}

	var temporal []string
	for _, col := range c.Columns {
		if strings.Contains(strings.ToLower(col.DataType), "timestamp") || strings.EqualFold(col.DataType, "date") {
			temporal = append(temporal, col.Name)
		}
	}
	if len(temporal) > 0 {
		recs = append(recs, fmt.Sprintf("Time-based analysis can use: %s.", strings.Join(temporal, ", ")))
	}

	if c.RowCount > 10000 {
		recs = append(recs, "Large table: prefer aggregations and LIMIT over full scans.")
	}

	if len(recs) == 0 {
		recs = append(recs, "No special considerations.")
	}
	return recs
}
