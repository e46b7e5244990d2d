// Package validation implements the four-phase output validator applied to
// every skill result: structural schema, pipeline invariants, the authority
// boundary, and the universal prohibitions. Phases always all run so the
// audit trace carries a complete picture, but the composite first-failure
// reports authority violations ahead of every other category.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/envelope"
	"github.com/arbiterlabs/ade/pkg/governance"
)

// Phase names, in execution order.
const (
	PhaseSchema       = "schema"
	PhaseInvariants   = "invariants"
	PhaseAuthority    = "authority_boundary"
	PhaseProhibitions = "prohibitions"
)

// Check ids for the structural phases. Governance phases carry the pattern
// table's own check ids instead.
const (
	CheckOutputMissing    = "SCHEMA-OUTPUT-MISSING"
	CheckSchemaViolation  = "SCHEMA-CONTRACT"
	CheckSelectionUnlock  = "INV-SELECTION-UNLOCKED"
	CheckProhibitedKey    = "INV-PROHIBITED-KEY"
	CheckTokenBudget      = "INV-TOKEN-BUDGET"
	maxTokenCount         = 500
)

// prohibitedKeys are the selection keys a skill payload may never carry.
// The same set is rejected at execution time; validation re-checks because
// the executor boundary is not trusted.
var prohibitedKeys = []string{
	"selected_action", "recommended_action", "alternative_action", "action_choice",
}

const outputSchemaJSON = `{
	"type": "object",
	"required": ["payload", "metadata"],
	"properties": {
		"payload": {
			"type": "object",
			"required": ["rationale"],
			"properties": {
				"rationale": {"type": "string", "minLength": 5, "maxLength": 500}
			}
		},
		"metadata": {"type": "object"}
	}
}`

var outputSchema = mustCompileSchema("skill-output", outputSchemaJSON)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://ade.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("validation: schema load failed: %v", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("validation: schema compile failed: %v", err))
	}
	return compiled
}

// Input is everything the validator needs about one skill execution.
type Input struct {
	Output          *contracts.SkillOutput
	SelectionLocked bool
	TokenCount      int
}

// Validator runs the four phases against versioned governance tables.
type Validator struct {
	authority   *governance.Table
	prohibition *governance.Table
}

// New creates a validator bound to the current table versions.
func New() *Validator {
	return &Validator{
		authority:   governance.AuthorityV1,
		prohibition: governance.ProhibitionV1,
	}
}

// NewWithTables creates a validator with explicit tables, for pinning a
// replay to the versions recorded in its trace.
func NewWithTables(authority, prohibition *governance.Table) *Validator {
	return &Validator{authority: authority, prohibition: prohibition}
}

// Validate runs all four phases and assembles the composite record.
func (v *Validator) Validate(in Input) envelope.ValidationRecord {
	text := ExtractText(payloadOf(in.Output))

	phases := []envelope.PhaseResult{
		v.validateSchema(in.Output),
		v.validateInvariants(in),
		v.scanPhase(PhaseAuthority, v.authority, text),
		v.scanPhase(PhaseProhibitions, v.prohibition, text),
	}

	rec := envelope.ValidationRecord{Phases: phases, Passed: true}
	for _, p := range phases {
		if !p.Passed {
			rec.Passed = false
		}
	}
	rec.FirstFailure = firstFailure(phases)
	return rec
}

// firstFailure picks the reported check id: authority violations lead,
// then the remaining failed phases in execution order.
func firstFailure(phases []envelope.PhaseResult) string {
	for _, p := range phases {
		if p.Phase == PhaseAuthority && !p.Passed {
			return phaseCheckID(p)
		}
	}
	for _, p := range phases {
		if !p.Passed {
			return phaseCheckID(p)
		}
	}
	return ""
}

func phaseCheckID(p envelope.PhaseResult) string {
	if len(p.Violations) > 0 {
		return p.Violations[0].CheckID
	}
	return p.Detail
}

func payloadOf(out *contracts.SkillOutput) map[string]interface{} {
	if out == nil {
		return nil
	}
	return out.Payload
}

func (v *Validator) validateSchema(out *contracts.SkillOutput) envelope.PhaseResult {
	if out == nil {
		return envelope.PhaseResult{Phase: PhaseSchema, Detail: CheckOutputMissing}
	}
	doc, err := toJSONValue(out)
	if err != nil {
		return envelope.PhaseResult{Phase: PhaseSchema, Detail: CheckSchemaViolation}
	}
	if err := outputSchema.Validate(doc); err != nil {
		return envelope.PhaseResult{Phase: PhaseSchema, Detail: CheckSchemaViolation}
	}
	return envelope.PhaseResult{Phase: PhaseSchema, Passed: true}
}

// toJSONValue round-trips through encoding/json so the schema validator sees
// the same value shapes a wire payload would have.
func toJSONValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (v *Validator) validateInvariants(in Input) envelope.PhaseResult {
	if !in.SelectionLocked {
		return envelope.PhaseResult{Phase: PhaseInvariants, Detail: CheckSelectionUnlock}
	}
	if key := findProhibitedKey(payloadOf(in.Output)); key != "" {
		return envelope.PhaseResult{
			Phase:  PhaseInvariants,
			Detail: CheckProhibitedKey + ":" + key,
		}
	}
	if in.TokenCount > maxTokenCount {
		return envelope.PhaseResult{Phase: PhaseInvariants, Detail: CheckTokenBudget}
	}
	return envelope.PhaseResult{Phase: PhaseInvariants, Passed: true}
}

// findProhibitedKey walks nested maps looking for any selection key.
func findProhibitedKey(m map[string]interface{}) string {
	if m == nil {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, bad := range prohibitedKeys {
			if k == bad {
				return k
			}
		}
		if nested, ok := m[k].(map[string]interface{}); ok {
			if hit := findProhibitedKey(nested); hit != "" {
				return hit
			}
		}
	}
	return ""
}

func (v *Validator) scanPhase(phase string, table *governance.Table, text string) envelope.PhaseResult {
	violations := table.Scan(text)
	return envelope.PhaseResult{
		Phase:      phase,
		Passed:     len(violations) == 0,
		Violations: violations,
	}
}

// ExtractText collects every string value in the payload, depth-first with
// sorted keys so the scanned text is deterministic across runs.
func ExtractText(payload map[string]interface{}) string {
	var sb strings.Builder
	collectStrings(payload, &sb)
	return sb.String()
}

func collectStrings(v interface{}, sb *strings.Builder) {
	switch t := v.(type) {
	case string:
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(t)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(t[k], sb)
		}
	case []interface{}:
		for _, item := range t {
			collectStrings(item, sb)
		}
	}
}
