package headers

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrUnsupportedValue is returned when a header value cannot be coerced to a
// string.
var ErrUnsupportedValue = errors.New("unsupported header value")

// Source is one of the accepted header input shapes: Mapping, Pairs, Map or
// *HeaderSet. The set of implementations is closed.
type Source interface {
	applyTo(dst *HeaderSet) error
}

// Pair is one name/value item of a Pairs or Mapping source.
type Pair struct {
	Name  string
	Value any
}

// Pairs is a sequence of name/value pairs. Order and duplicates are kept
// exactly as given.
type Pairs []Pair

// Mapping is an ordered name to value mapping. Insertion order is kept; a
// name repeated later in the mapping replaces the earlier value in place.
type Mapping []Pair

// Map is a plain Go map. Go maps have no insertion order, so keys are applied
// in sorted order.
type Map map[string]any

// From builds a HeaderSet from src. A nil src yields an empty set.
func From(src Source) (*HeaderSet, error) {
	h := New()
	if src == nil {
		return h, nil
	}
	if err := src.applyTo(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (p Pairs) applyTo(dst *HeaderSet) error {
	for _, pair := range p {
		values, err := coerce(pair.Name, pair.Value)
		if err != nil {
			return err
		}
		for _, v := range values {
			dst.Append(pair.Name, v)
		}
	}
	return nil
}

func (m Mapping) applyTo(dst *HeaderSet) error {
	for _, pair := range m {
		values, err := coerce(pair.Name, pair.Value)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			continue
		}
		dst.Set(pair.Name, values[0])
		for _, v := range values[1:] {
			dst.Append(pair.Name, v)
		}
	}
	return nil
}

func (m Map) applyTo(dst *HeaderSet) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(Mapping, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, Pair{Name: k, Value: m[k]})
	}
	return ordered.applyTo(dst)
}

func (h *HeaderSet) applyTo(dst *HeaderSet) error {
	if h == nil {
		return nil
	}
	for _, e := range h.entries {
		dst.Append(e.Name, e.Value)
	}
	return nil
}

// coerce converts a caller value into zero or more header values.
// nil yields no values.
func coerce(name string, v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []string:
		return val, nil
	case bool:
		return []string{strconv.FormatBool(val)}, nil
	case int:
		return []string{strconv.Itoa(val)}, nil
	case int8:
		return []string{strconv.FormatInt(int64(val), 10)}, nil
	case int16:
		return []string{strconv.FormatInt(int64(val), 10)}, nil
	case int32:
		return []string{strconv.FormatInt(int64(val), 10)}, nil
	case int64:
		return []string{strconv.FormatInt(val, 10)}, nil
	case uint:
		return []string{strconv.FormatUint(uint64(val), 10)}, nil
	case uint8:
		return []string{strconv.FormatUint(uint64(val), 10)}, nil
	case uint16:
		return []string{strconv.FormatUint(uint64(val), 10)}, nil
	case uint32:
		return []string{strconv.FormatUint(uint64(val), 10)}, nil
	case uint64:
		return []string{strconv.FormatUint(val, 10)}, nil
	case float32:
		return []string{strconv.FormatFloat(float64(val), 'f', -1, 32)}, nil
	case float64:
		return []string{strconv.FormatFloat(val, 'f', -1, 64)}, nil
	case fmt.Stringer:
		return []string{val.String()}, nil
	default:
		return nil, fmt.Errorf("%w: %q has type %T", ErrUnsupportedValue, name, v)
	}
}
