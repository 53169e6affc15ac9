// Package charts derives visualization suggestions from a result set.
// Recommendations are deterministic so identical results always
// produce identical suggestions.
package charts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/querysage-ai/querysage-engine/pkg/execution"
)

// ChartType enumerates the renderable chart kinds.
type ChartType string

const (
	ChartBar      ChartType = "bar"
	ChartLine     ChartType = "line"
	ChartArea     ChartType = "area"
	ChartScatter  ChartType = "scatter"
	ChartPie      ChartType = "pie"
	ChartDonut    ChartType = "donut"
	ChartComposed ChartType = "composed"
	ChartRadial   ChartType = "radial"
	ChartTreemap  ChartType = "treemap"
	ChartFunnel   ChartType = "funnel"
)

// maxPieBuckets: above this many categories a pie or donut becomes
// unreadable and is not suggested.
const maxPieBuckets = 10

const maxRecommendations = 4

// Recommendation is one suggested chart spec.
type Recommendation struct {
	ChartType       ChartType `json:"chart_type"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	XAxis           string    `json:"x_axis"`
	YAxis           string    `json:"y_axis"`
	SecondaryYAxis  string    `json:"secondary_y_axis,omitempty"`
	ConfidenceScore float64   `json:"confidence_score"`
}

// Result is the recommender output.
type Result struct {
	IsVisualizable  bool             `json:"is_visualizable"`
	Reason          string           `json:"reason,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Recommend inspects columns and sample rows and suggests chart specs,
// best first.
func Recommend(columns []execution.ColumnInfo, sampleRows []map[string]any, question string) Result {
	if len(sampleRows) == 0 {
		return Result{IsVisualizable: false, Reason: "result set is empty"}
	}

	numeric := filterColumns(columns, isNumericType)
	temporal := filterColumns(columns, isTemporalType)
	categorical := categoricalColumns(columns)

	if len(numeric) == 0 {
		return Result{IsVisualizable: false, Reason: "no numeric column to plot"}
	}

	var recs []Recommendation

	if len(temporal) > 0 {
		x, y := temporal[0], numeric[0]
		recs = append(recs,
			spec(ChartLine, x, y, 0.9, "Trend over time."),
			spec(ChartArea, x, y, 0.7, "Cumulative view of the trend."))
		if len(numeric) > 1 {
			r := spec(ChartComposed, x, y, 0.6, "Two measures on a shared time axis.")
			r.SecondaryYAxis = numeric[1].Name
			recs = append(recs, r)
		}
	}

	if len(categorical) > 0 {
		x, y := categorical[0], numeric[0]
		buckets := distinctCount(sampleRows, x.Name)
		recs = append(recs, spec(ChartBar, x, y, 0.85, "Comparison across categories."))

		if buckets <= maxPieBuckets {
			recs = append(recs,
				spec(ChartPie, x, y, 0.6, "Share of the total per category."),
				spec(ChartDonut, x, y, 0.55, "Share of the total per category."))
		} else {
			recs = append(recs, spec(ChartTreemap, x, y, 0.5, "Proportions across many categories."))
		}

		if len(numeric) > 1 {
			r := spec(ChartComposed, x, y, 0.5, "Two measures per category.")
			r.SecondaryYAxis = numeric[1].Name
			recs = append(recs, r)
		}
		if buckets > 1 && buckets <= 6 && mentionsAny(question, "conversion", "stage", "step", "funnel") {
			recs = append(recs, spec(ChartFunnel, x, y, 0.45, "Stage-by-stage drop-off."))
		}
	}

	if len(numeric) >= 2 && len(temporal) == 0 {
		recs = append(recs, spec(ChartScatter, numeric[0], numeric[1], 0.75, "Relationship between two measures."))
	}

	if len(recs) == 0 {
		// Numeric-only single column: a radial gauge is the only fit.
		recs = append(recs, spec(ChartRadial, numeric[0], numeric[0], 0.3, "Single-measure gauge."))
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].ConfidenceScore > recs[j].ConfidenceScore
	})
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}

	return Result{IsVisualizable: true, Recommendations: recs}
}

func spec(chartType ChartType, x, y execution.ColumnInfo, confidence float64, description string) Recommendation {
	return Recommendation{
		ChartType:       chartType,
		Title:           chartTitle(x.Name, y.Name),
		Description:     description,
		XAxis:           x.Name,
		YAxis:           y.Name,
		ConfidenceScore: confidence,
	}
}

// chartTitle builds "Ratings by Country" style titles.
func chartTitle(x, y string) string {
	return fmt.Sprintf("%s by %s", inflection.Plural(humanize(y)), humanize(x))
}

func humanize(column string) string {
	words := strings.FieldsFunc(column, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func filterColumns(columns []execution.ColumnInfo, keep func(string) bool) []execution.ColumnInfo {
	var out []execution.ColumnInfo
	for _, c := range columns {
		if keep(c.Type) && !isIdentifierColumn(c) {
			out = append(out, c)
		}
	}
	return out
}

func categoricalColumns(columns []execution.ColumnInfo) []execution.ColumnInfo {
	var out []execution.ColumnInfo
	for _, c := range columns {
		if isCategoricalType(c.Type) && !isIdentifierColumn(c) {
			out = append(out, c)
		}
	}
	return out
}

func isNumericType(t string) bool {
	switch strings.ToUpper(t) {
	case "INT2", "INT4", "INT8", "FLOAT4", "FLOAT8", "NUMERIC", "MONEY":
		return true
	default:
		return false
	}
}

func isTemporalType(t string) bool {
	switch strings.ToUpper(t) {
	case "DATE", "TIME", "TIMETZ", "TIMESTAMP", "TIMESTAMPTZ":
		return true
	default:
		return false
	}
}

func isCategoricalType(t string) bool {
	switch strings.ToUpper(t) {
	case "TEXT", "VARCHAR", "BPCHAR", "BOOL":
		return true
	default:
		return false
	}
}

// isIdentifierColumn filters out key columns that would make
// meaningless axes.
func isIdentifierColumn(c execution.ColumnInfo) bool {
	if strings.EqualFold(c.Type, "UUID") {
		return true
	}
	name := strings.ToLower(c.Name)
	return name == "id" || strings.HasSuffix(name, "_id")
}

func distinctCount(rows []map[string]any, column string) int {
	seen := make(map[string]bool)
	for _, row := range rows {
		seen[fmt.Sprintf("%v", row[column])] = true
	}
	return len(seen)
}

func mentionsAny(question string, words ...string) bool {
	q := strings.ToLower(question)
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}
