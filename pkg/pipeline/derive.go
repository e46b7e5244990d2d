package pipeline

import (
	"context"
	"math"

	"github.com/arbiterlabs/ade/pkg/canonical"
	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/envelope"
	"github.com/arbiterlabs/ade/pkg/expr"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

// scoringMissing is the sentinel for unreadable state fields in numeric
// positions during derivation and scoring.
const scoringMissing = 0.5

// stageDeriveState evaluates core dimensions in schema order, then scenario
// extensions. Memory is non-authoritative: a failed read falls through to
// declared defaults.
func (p *Pipeline) stageDeriveState(ctx context.Context, env *envelope.Envelope, scn *scenario.Scenario) error {
	req := env.Request

	memView := map[string]interface{}{}
	if p.memories != nil {
		if entry, err := p.memories.Get(ctx, req.Platform, req.UserID); err == nil {
			memView = entry.View(p.now())
		}
	}

	ctxView := req.Context.View()
	enrichContext(ctxView, req.Context)

	signals := req.Signals
	if signals == nil {
		signals = map[string]interface{}{}
	}

	core := make(map[string]interface{}, len(scn.StateSchema.CoreDimensions))
	ext := make(map[string]interface{}, len(scn.StateSchema.ScenarioDimensions))
	derived := map[string]interface{}{} // bare names for computed inputs

	root := map[string]interface{}{
		"signals": signals,
		"context": ctxView,
		"memory":  memView,
		"state": map[string]interface{}{
			"core":                core,
			"scenario_extensions": ext,
		},
	}

	deriveInto := func(dims []scenario.Dimension, out map[string]interface{}) {
		for _, d := range dims {
			out[d.Name] = p.deriveDimension(d, signals, ctxView, memView, derived, root)
			derived[d.Name] = out[d.Name]
		}
	}
	deriveInto(scn.StateSchema.CoreDimensions, core)
	deriveInto(scn.StateSchema.ScenarioDimensions, ext)

	inputsHash, err := canonical.Hash(map[string]interface{}{
		"signals": signals,
		"context": ctxView,
	})
	if err != nil {
		return internalErr(err)
	}

	env.State = contracts.UserState{
		Core:               core,
		ScenarioExtensions: ext,
		Capabilities:       p.executorCapabilities(),
		InputsHash:         inputsHash,
	}
	return nil
}

func (p *Pipeline) executorCapabilities() map[string]interface{} {
	caps := map[string]interface{}{}
	for _, mode := range []scenario.ExecutionMode{scenario.ModeDeterministicOnly, scenario.ModeSkillEnhanced} {
		available := false
		if p.executors != nil {
			if e, err := p.executors.Get(mode); err == nil {
				available = e.IsAvailable()
			}
		}
		caps[string(mode)] = available
	}
	return caps
}

// enrichContext adds clock-derived keys so scenarios can declare context
// dimensions like local_hour without every caller sending them.
func enrichContext(view map[string]interface{}, rc contracts.RequestContext) {
	t, err := parseCurrentTime(rc)
	if err != nil {
		return
	}
	if _, ok := view["local_hour"]; !ok {
		view["local_hour"] = float64(t.Hour())
	}
	if _, ok := view["day_of_week"]; !ok {
		view["day_of_week"] = float64(t.Weekday())
	}
}

// deriveDimension produces one dimension value by its declared source.
func (p *Pipeline) deriveDimension(d scenario.Dimension, signals, ctxView, memView, derived map[string]interface{}, root map[string]interface{}) interface{} {
	var raw interface{}
	var ok bool

	switch d.Derivation.Source {
	case scenario.SourceSignal:
		raw, ok = signals[d.Name]
	case scenario.SourceContext:
		raw, ok = ctxView[d.Name]
	case scenario.SourceMemory:
		raw, ok = memView[d.Name]
	case scenario.SourceComputed:
		merged := make(map[string]interface{}, len(root)+len(derived))
		for k, v := range root {
			merged[k] = v
		}
		for k, v := range derived {
			merged[k] = v
		}
		opts := expr.Options{MissingNumber: scoringMissing}
		def := numericDefault(d)
		val := p.evaluator.EvalNumber(d.Derivation.Formula, expr.MapResolver(merged), opts, def)
		return clampDimension(d, val)
	}

	if !ok || raw == nil {
		return defaultFor(d)
	}
	return coerceDimension(d, raw)
}

func defaultFor(d scenario.Dimension) interface{} {
	if d.Default != nil {
		return coerceDimension(d, d.Default)
	}
	switch d.Type {
	case scenario.DimBoolean:
		return false
	case scenario.DimString:
		return ""
	default:
		return 0.0
	}
}

func numericDefault(d scenario.Dimension) float64 {
	if d.Default == nil {
		return 0
	}
	if v, ok := expr.FromAny(d.Default).AsNumber(); ok {
		return v
	}
	return 0
}

// coerceDimension converts a raw input to the dimension's declared type and
// clamps numerics. Uncoercible values fall back to the default.
func coerceDimension(d scenario.Dimension, raw interface{}) interface{} {
	switch d.Type {
	case scenario.DimFloat, scenario.DimInteger:
		v, ok := expr.FromAny(raw).AsNumber()
		if !ok {
			return defaultNumeric(d)
		}
		return clampDimension(d, v)
	case scenario.DimBoolean:
		if b, ok := expr.FromAny(raw).AsBool(); ok {
			return b
		}
		if d.Default != nil {
			if b, ok := d.Default.(bool); ok {
				return b
			}
		}
		return false
	case scenario.DimString:
		if s, ok := raw.(string); ok {
			return s
		}
		if d.Default != nil {
			if s, ok := d.Default.(string); ok {
				return s
			}
		}
		return ""
	}
	return raw
}

func defaultNumeric(d scenario.Dimension) float64 {
	if d.Default != nil {
		if v, ok := expr.FromAny(d.Default).AsNumber(); ok {
			return clampNumber(d, v)
		}
	}
	return clampNumber(d, 0)
}

// clampDimension applies the declared range and integer rounding, returning
// a float64 so state serializes uniformly.
func clampDimension(d scenario.Dimension, v float64) float64 {
	v = clampNumber(d, v)
	if d.Type == scenario.DimInteger {
		v = math.Round(v)
	}
	return v
}

func clampNumber(d scenario.Dimension, v float64) float64 {
	if d.Min != nil && v < *d.Min {
		v = *d.Min
	}
	if d.Max != nil && v > *d.Max {
		v = *d.Max
	}
	return v
}
