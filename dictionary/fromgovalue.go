package dictionary

import (
	"fmt"
	"time"
)

// FromGoValue converts a decoded YAML/JSON-shaped Go value (as produced by
// yaml.Unmarshal into an any, or json.Unmarshal with UseNumber off) into a
// Value. Maps are rejected: Value has no container-of-dictionary variant,
// so a configuration file with nested mappings is a configuration error
// rather than something FromGoValue silently flattens.
func FromGoValue(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return None(), nil
	case bool:
		return NewBool(t), nil
	case int:
		return NewInt(int64(t)), nil
	case int64:
		return NewInt(t), nil
	case float64:
		return NewFloat(t), nil
	case string:
		return NewString(t), nil
	case time.Time:
		return NewTime(t), nil
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			v, err := FromGoValue(e)
			if err != nil {
				return Value{}, err
			}
			elems[i] = v
		}
		return NewList(elems...), nil
	default:
		return Value{}, NewTypeMismatchError("scalar or list", fmt.Sprintf("%T", raw))
	}
}
