package verifier

import (
	"fmt"
	"strings"

	"github.com/querysage-ai/querysage-engine/pkg/sqlutil"
)

// criticalIssue is a finding that forces DO_NOT_EXECUTE regardless of
// the model's assessment.
type criticalIssue struct {
	Statement string
	Issue     string
	Injection *sqlutil.InjectionFinding
}

// screen runs the deterministic safety checks over each statement.
func screen(sqls []string, targetTable string) []criticalIssue {
	var issues []criticalIssue
	for _, sql := range sqls {
		stripped := sqlutil.StripLeadingComments(sql)
		upper := strings.ToUpper(collapse(stripped))

		switch {
		case strings.HasPrefix(upper, "UPDATE ") && !hasWhereClause(stripped):
			issues = append(issues, criticalIssue{
				Statement: sql,
				Issue:     "UPDATE without WHERE clause affects every row",
			})
		case strings.HasPrefix(upper, "DELETE ") && !hasWhereClause(stripped):
			issues = append(issues, criticalIssue{
				Statement: sql,
				Issue:     "DELETE without WHERE clause removes every row",
			})
		}

		if dropsTable(upper, targetTable) {
			issues = append(issues, criticalIssue{
				Statement: sql,
				Issue:     fmt.Sprintf("statement drops or truncates the analyzed table %q", targetTable),
			})
		}
		if disablesIntegrity(upper) {
			issues = append(issues, criticalIssue{
				Statement: sql,
				Issue:     "statement disables a trigger or drops a constraint",
			})
		}

		for _, finding := range sqlutil.ScanLiterals(sql) {
			f := finding
			issues = append(issues, criticalIssue{
				Statement: sql,
				Issue:     fmt.Sprintf("embedded literal matches SQL injection pattern (fingerprint %s)", f.Fingerprint),
				Injection: f,
			})
		}
	}
	return issues
}

// hasWhereClause reports whether WHERE appears as a keyword outside
// string literals.
func hasWhereClause(sql string) bool {
	upper := strings.ToUpper(stripLiterals(sql))
	return strings.Contains(collapse(upper), " WHERE ")
}

// stripLiterals blanks out single-quoted string content, honoring ''
// escapes, so keyword scans cannot match inside literals.
func stripLiterals(sql string) string {
	var b strings.Builder
	inString := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
			b.WriteByte(ch)
			continue
		}
		if !inString {
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func dropsTable(upperSQL, targetTable string) bool {
	target := strings.ToUpper(targetTable)
	for _, prefix := range []string{"DROP TABLE ", "TRUNCATE TABLE ", "TRUNCATE "} {
		if !strings.HasPrefix(upperSQL, prefix) {
			continue
		}
		rest := strings.TrimPrefix(upperSQL, prefix)
		rest = strings.TrimPrefix(rest, "IF EXISTS ")
		rest = strings.Trim(rest, `"; `)
		// Accept both bare and schema-qualified spellings.
		if rest == target || strings.HasSuffix(rest, "."+target) ||
			strings.HasSuffix(rest, `."`+target+`"`) {
			return true
		}
	}
	return false
}

func disablesIntegrity(upperSQL string) bool {
	if !strings.HasPrefix(upperSQL, "ALTER TABLE ") {
		return false
	}
	return strings.Contains(upperSQL, "DISABLE TRIGGER") ||
		strings.Contains(upperSQL, "DROP CONSTRAINT")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
