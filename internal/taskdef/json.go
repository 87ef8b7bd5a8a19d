package taskdef

import "encoding/json"

// Both TaskDefinition and TaskState implement custom (un)marshaling so
// that fields unknown to this version of the kernel are preserved
// across a load/save round-trip (spec.md §6: "Extra unknown fields must
// be preserved on round-trip").

type taskDefinitionAlias TaskDefinition

func (d TaskDefinition) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(taskDefinitionAlias(d), d.extra)
}

func (d *TaskDefinition) UnmarshalJSON(data []byte) error {
	var alias taskDefinitionAlias
	extra, err := unmarshalWithExtra(data, &alias)
	if err != nil {
		return err
	}
	*d = TaskDefinition(alias)
	d.extra = extra
	return nil
}

type taskStateAlias TaskState

func (s TaskState) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(taskStateAlias(s), s.extra)
}

func (s *TaskState) UnmarshalJSON(data []byte) error {
	var alias taskStateAlias
	extra, err := unmarshalWithExtra(data, &alias)
	if err != nil {
		return err
	}
	*s = TaskState(alias)
	s.extra = extra
	return nil
}

// knownFields lists the JSON keys produced by encoding `v`, computed via
// a throwaway marshal. It's used to figure out which keys in a raw
// object are "extra" (unknown to this struct).
func knownFields(v any) (map[string]struct{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(m))
	for k := range m {
		known[k] = struct{}{}
	}
	return known, nil
}

func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

func unmarshalWithExtra(data []byte, v any) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	known, err := knownFields(v)
	if err != nil {
		return nil, err
	}

	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if _, ok := known[k]; !ok {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil, nil
	}
	return extra, nil
}
