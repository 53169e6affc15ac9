package sqlutil

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionFinding describes a value that tripped the libinjection screen.
type InjectionFinding struct {
	Value       string // The literal or parameter value that matched
	Fingerprint string // libinjection fingerprint for pattern analysis
	Source      string // Where the value came from ("literal", "parameter")
}

// CheckValue screens a single value for SQL injection patterns.
// Only strings can carry injection payloads; other types return nil.
func CheckValue(source string, value any) *InjectionFinding {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}
	return &InjectionFinding{
		Value:       strValue,
		Fingerprint: string(fingerprint),
		Source:      source,
	}
}

// ScanLiterals screens every string literal embedded in a generated
// statement. LLM-generated SQL interpolates user-influenced text into
// literals, so a match here means the question smuggled a payload through
// generation.
func ScanLiterals(sql string) []*InjectionFinding {
	var findings []*InjectionFinding
	for _, lit := range StringLiterals(sql) {
		if f := CheckValue("literal", lit); f != nil {
			findings = append(findings, f)
		}
	}
	return findings
}
