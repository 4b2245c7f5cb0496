package api

import (
	"fmt"
	"maps"
)

// ApplyPatch overrides the listed keys of every step in flow whose name
// matches patch["name"]. Keys not listed in the patch are left untouched.
// It returns the number of patched steps.
func (f *Flow) ApplyPatch(patch map[string]any) (int, error) {
	name, _ := patch["name"].(string)
	if name == "" {
		return 0, invalidf("config patch without step name")
	}

	patched := 0
	for i := range f.Steps {
		if f.Steps[i].Name != name {
			continue
		}
		step := f.Steps[i]
		if err := step.apply(patch); err != nil {
			return patched, fmt.Errorf("patching step %q: %w", name, err)
		}
		f.Steps[i] = step
		patched++
	}
	return patched, nil
}

func (s *StepConfig) apply(patch map[string]any) error {
	params := maps.Clone(s.Params)
	if params == nil {
		params = make(map[string]any)
	}

	for key, value := range patch {
		switch key {
		case "name":
			continue
		case "description":
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: description must be a string, got %T", ErrUnsupportedValueType, value)
			}
			s.Description = str
		case "human_readable_name":
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: human_readable_name must be a string, got %T", ErrUnsupportedValueType, value)
			}
			s.HumanReadableName = str
		case "relative_secrets":
			keys, err := toStringSlice(value)
			if err != nil {
				return fmt.Errorf("relative_secrets: %w", err)
			}
			s.RelativeSecrets = keys
		case "generates":
			generates, err := toStringMap(value)
			if err != nil {
				return fmt.Errorf("generates: %w", err)
			}
			s.Generates = generates
		default:
			params[key] = value
		}
	}

	s.Params = params
	return nil
}

func toStringSlice(value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrUnsupportedValueType, value)
	}
	res := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected a string item, got %T", ErrUnsupportedValueType, item)
		}
		res = append(res, str)
	}
	return res, nil
}

func toStringMap(value any) (map[string]string, error) {
	items, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a mapping, got %T", ErrUnsupportedValueType, value)
	}
	res := make(map[string]string, len(items))
	for k, v := range items {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q must be a string template, got %T", ErrUnsupportedValueType, k, v)
		}
		res[k] = str
	}
	return res, nil
}
