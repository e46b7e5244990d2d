// Package governance holds the versioned authority-boundary and prohibition
// pattern tables enforced on skill output. Patterns are authored as data and
// compiled once at package init; the table version is carried on every
// violation for auditability.
package governance

import (
	"fmt"
	"regexp"
)

// Severity classifies a pattern match.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Category groups patterns by the behavior they forbid.
type Category string

const (
	CategoryAuthority   Category = "authority_boundary"
	CategoryProhibition Category = "universal_prohibition"
	CategoryPII         Category = "pii"
)

// Pattern is a single compiled prohibition rule.
type Pattern struct {
	Name     string
	Category Category
	Severity Severity
	Source   string // regex source, kept for export/debugging
	re       *regexp.Regexp
}

// Violation records a single pattern match against scanned text.
type Violation struct {
	CheckID      string   `json:"check_id"`
	Category     Category `json:"category"`
	Severity     Severity `json:"severity"`
	MatchedText  string   `json:"matched_text"`
	TableVersion string   `json:"table_version"`
}

// Table is an immutable, versioned set of compiled patterns.
type Table struct {
	Version  string
	Patterns []Pattern
}

// patternSpec is the data form a table is authored in.
type patternSpec struct {
	name     string
	category Category
	severity Severity
	source   string
}

func compileTable(version string, specs []patternSpec) *Table {
	t := &Table{Version: version}
	for _, s := range specs {
		t.Patterns = append(t.Patterns, Pattern{
			Name:     s.name,
			Category: s.category,
			Severity: s.severity,
			Source:   s.source,
			re:       regexp.MustCompile(`(?i)` + s.source),
		})
	}
	return t
}

// Scan matches text against every pattern and returns all violations.
// PII matches record "[REDACTED]" as matched text, never the raw value.
func (t *Table) Scan(text string) []Violation {
	var out []Violation
	for _, p := range t.Patterns {
		m := p.re.FindString(text)
		if m == "" {
			continue
		}
		matched := m
		if p.Category == CategoryPII {
			matched = "[REDACTED]"
		}
		out = append(out, Violation{
			CheckID:      p.Name,
			Category:     p.Category,
			Severity:     p.Severity,
			MatchedText:  matched,
			TableVersion: t.Version,
		})
	}
	return out
}

// AuthorityV1 is the v1 authority-boundary table. Skills may explain the
// decision; they may not make, revise, or second-guess it.
var AuthorityV1 = compileTable("authority-v1", []patternSpec{
	{name: "AUTH-SELECTION-KEYWORD", category: CategoryAuthority, severity: SeverityError,
		source: `\b(selected_action|recommended_action|alternative_action|action_choice)\b`},
	{name: "AUTH-RECOMMENDATION", category: CategoryAuthority, severity: SeverityError,
		source: `\b(i recommend|you should|instead|alternatively)\b`},
	{name: "AUTH-SCORE-REFERENCE", category: CategoryAuthority, severity: SeverityError,
		source: `\b(score[sd]?|scoring|rank(s|ed|ing)?|weight(s|ed)?)\b`},
	{name: "AUTH-GUARDRAIL-COMMENTARY", category: CategoryAuthority, severity: SeverityError,
		source: `\b(despite|bypass(ing|ed)?|overrid(e|ing|den))\b`},
	{name: "AUTH-AGENCY-CLAIM", category: CategoryAuthority, severity: SeverityError,
		source: `\b(i decided|i chose|we chose for you|my decision)\b`},
})

// ProhibitionV1 is the v1 universal-prohibition table including PII-shaped
// patterns.
var ProhibitionV1 = compileTable("prohibition-v1", []patternSpec{
	{name: "PROHIB-DECISION-OVERRIDE", category: CategoryProhibition, severity: SeverityError,
		source: `\b(ignore (the|this) (selection|decision)|do something else|better option)\b`},
	{name: "PROHIB-MEDICAL-CLAIM", category: CategoryProhibition, severity: SeverityError,
		source: `\b(diagnos(is|e|ed)|prescri(be|ption)|cure[sd]?|medical advice)\b`},
	{name: "PROHIB-LEGAL-CLAIM", category: CategoryProhibition, severity: SeverityError,
		source: `\b(legal advice|lawsuit|liabilit(y|ies) waiver)\b`},
	{name: "PROHIB-FINANCIAL-CLAIM", category: CategoryProhibition, severity: SeverityError,
		source: `\b(guaranteed return[s]?|investment advice|financial advice)\b`},
	{name: "PROHIB-URGENCY", category: CategoryProhibition, severity: SeverityError,
		source: `\b(act now|limited time|last chance|urgent(ly)?|immediately or)\b`},
	{name: "PROHIB-NEGATIVE-FRAMING", category: CategoryProhibition, severity: SeverityError,
		source: `\b(you('re| are) (failing|behind|lazy)|disappointing|worthless)\b`},
	{name: "PROHIB-PII-EMAIL", category: CategoryPII, severity: SeverityError,
		source: `[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`},
	{name: "PROHIB-PII-PHONE", category: CategoryPII, severity: SeverityError,
		source: `\b(\+?\d{1,2}[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`},
	{name: "PROHIB-PII-SSN", category: CategoryPII, severity: SeverityError,
		source: `\b\d{3}-\d{2}-\d{4}\b`},
})

// FallbackMinimal is the reduced table applied to fallback-synthesized
// payloads. Fallback templates never read skill output, so only the
// patterns that could leak through interpolation are checked.
var FallbackMinimal = compileTable("fallback-minimal-v1", []patternSpec{
	{name: "AUTH-SELECTION-KEYWORD", category: CategoryAuthority, severity: SeverityError,
		source: `\b(selected_action|recommended_action|alternative_action|action_choice)\b`},
	{name: "PROHIB-PII-EMAIL", category: CategoryPII, severity: SeverityError,
		source: `[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`},
	{name: "PROHIB-PII-SSN", category: CategoryPII, severity: SeverityError,
		source: `\b\d{3}-\d{2}-\d{4}\b`},
})

// Lookup returns a table by version identifier.
func Lookup(version string) (*Table, error) {
	switch version {
	case AuthorityV1.Version:
		return AuthorityV1, nil
	case ProhibitionV1.Version:
		return ProhibitionV1, nil
	case FallbackMinimal.Version:
		return FallbackMinimal, nil
	default:
		return nil, fmt.Errorf("governance: unknown table version %q", version)
	}
}
