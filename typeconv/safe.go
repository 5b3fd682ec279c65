// Package typeconv provides safe, panic-free coercions between
// dictionary.Value and Go's native scalar types. Configuration's typed
// getters and CSCP's user-command argument checking both need "give me this
// Value as a T, or tell me it doesn't fit" rather than a failed type
// assertion crashing the satellite process.
package typeconv

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/constellation-daq/constellation-core/dictionary"
)

// SafeString coerces v to a string. Bool, int, float and time Values are
// also accepted via their canonical String() rendering, matching the
// original implementation's permissive getValue<string>() behavior.
func SafeString(v dictionary.Value) (string, bool) {
	switch v.Kind() {
	case dictionary.KindString:
		s, _ := v.AsString()
		return s, true
	case dictionary.KindNone:
		return "", false
	default:
		return v.String(), true
	}
}

// SafeStringDefault is SafeString with a fallback for values that don't fit.
func SafeStringDefault(v dictionary.Value, def string) string {
	if s, ok := SafeString(v); ok {
		return s
	}
	return def
}

// SafeInt coerces v to an int64. A float Value is accepted if it has no
// fractional part; a string Value is accepted if it parses as an integer.
func SafeInt(v dictionary.Value) (int64, bool) {
	switch v.Kind() {
	case dictionary.KindInt:
		i, _ := v.AsInt()
		return i, true
	case dictionary.KindFloat:
		f, _ := v.AsFloat()
		if f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	case dictionary.KindBool:
		b, _ := v.AsBool()
		if b {
			return 1, true
		}
		return 0, true
	case dictionary.KindString:
		s, _ := v.AsString()
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// SafeIntDefault is SafeInt with a fallback.
func SafeIntDefault(v dictionary.Value, def int64) int64 {
	if i, ok := SafeInt(v); ok {
		return i
	}
	return def
}

// SafeFloat coerces v to a float64, accepting int and numeric-string Values too.
func SafeFloat(v dictionary.Value) (float64, bool) {
	switch v.Kind() {
	case dictionary.KindFloat:
		f, _ := v.AsFloat()
		return f, true
	case dictionary.KindInt:
		i, _ := v.AsInt()
		return float64(i), true
	case dictionary.KindString:
		s, _ := v.AsString()
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// SafeFloatDefault is SafeFloat with a fallback.
func SafeFloatDefault(v dictionary.Value, def float64) float64 {
	if f, ok := SafeFloat(v); ok {
		return f
	}
	return def
}

// SafeBool coerces v to a bool. Strings "true"/"false" (case-insensitive)
// and non-zero/zero ints are also accepted.
func SafeBool(v dictionary.Value) (bool, bool) {
	switch v.Kind() {
	case dictionary.KindBool:
		b, _ := v.AsBool()
		return b, true
	case dictionary.KindInt:
		i, _ := v.AsInt()
		return i != 0, true
	case dictionary.KindString:
		s, _ := v.AsString()
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return true, true
		case "false":
			return false, true
		default:
			return false, false
		}
	default:
		return false, false
	}
}

// SafeBoolDefault is SafeBool with a fallback.
func SafeBoolDefault(v dictionary.Value, def bool) bool {
	if b, ok := SafeBool(v); ok {
		return b
	}
	return def
}

// SafeTime coerces v to a time.Time.
func SafeTime(v dictionary.Value) (time.Time, bool) {
	if v.Kind() != dictionary.KindTime {
		return time.Time{}, false
	}
	return v.AsTime()
}

// SafeList coerces v to a dictionary.List.
func SafeList(v dictionary.Value) (dictionary.List, bool) {
	return dictionary.ListFromValue(v)
}

// MustString coerces v to a string or panics. Reserved for call sites that
// have already validated v's kind (e.g. after an FSM or CSCP type check) and
// would treat failure as a programming error rather than a user mistake.
func MustString(v dictionary.Value, context string) string {
	if s, ok := SafeString(v); ok {
		return s
	}
	panic(fmt.Sprintf("typeconv.MustString: value of kind %s does not convert to string at %s", v.Kind(), context))
}

// GetPath resolves a dot-separated path against a Dictionary: the first
// element names a top-level key and every following element is a list or
// vector index ("key.N", "key.N.M"). Nested Dictionaries are not descended
// into, since nesting in Constellation's data model is limited to Lists and
// vectors.
func GetPath(d *dictionary.Dictionary, path string) (dictionary.Value, bool) {
	if d == nil || path == "" {
		return dictionary.Value{}, false
	}
	parts := splitPath(path)
	if len(parts) == 0 {
		return dictionary.Value{}, false
	}
	v, ok := d.Get(parts[0])
	if !ok {
		return dictionary.Value{}, false
	}
	for _, part := range parts[1:] {
		idx, err := strconv.Atoi(part)
		if err != nil {
			return dictionary.Value{}, false
		}
		elems := v.Elems()
		if idx < 0 || idx >= len(elems) {
			return dictionary.Value{}, false
		}
		v = elems[idx]
	}
	return v, true
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}
