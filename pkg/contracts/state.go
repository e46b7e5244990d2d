package contracts

// UserState is the derived per-decision state: core dimensions in
// schema-declared order, scenario extensions, and execution capabilities.
// InputsHash is the stable content hash of the signals and relevant context
// that produced it; replay determinism checks compare it.
type UserState struct {
	Core               map[string]interface{} `json:"core"`
	ScenarioExtensions map[string]interface{} `json:"scenario_extensions"`
	Capabilities       map[string]interface{} `json:"capabilities,omitempty"`
	InputsHash         string                 `json:"inputs_hash"`
}

// Clone returns a deep copy of the state.
func (s UserState) Clone() UserState {
	return UserState{
		Core:               cloneMap(s.Core),
		ScenarioExtensions: cloneMap(s.ScenarioExtensions),
		Capabilities:       cloneMap(s.Capabilities),
		InputsHash:         s.InputsHash,
	}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// CloneAnyMap deep-copies an arbitrary JSON-shaped map. Shared by audit and
// memory snapshotting.
func CloneAnyMap(m map[string]interface{}) map[string]interface{} {
	return cloneMap(m)
}
