package graph

import (
	"fmt"
	"maps"
	"reflect"
)

// Reducer defines how a state field should be updated.
// It takes the current value and the incoming value, and returns the merged value.
type Reducer func(current, incoming any) (any, error)

// Schema defines the update logic for the graph state.
// Fields without a registered reducer are overwritten.
type Schema struct {
	Reducers map[string]Reducer
}

// NewSchema creates a new Schema with no registered reducers.
func NewSchema() *Schema {
	return &Schema{
		Reducers: make(map[string]Reducer),
	}
}

// RegisterReducer adds a reducer for a specific field. It returns the schema
// so registrations can be chained.
func (s *Schema) RegisterReducer(key string, reducer Reducer) *Schema {
	s.Reducers[key] = reducer
	return s
}

// Apply merges the incoming partial update into the current state using the
// registered reducers. The current map is never mutated.
func (s *Schema) Apply(current, incoming map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(current)+len(incoming))
	maps.Copy(result, current)

	for k, v := range incoming {
		reducer, ok := s.Reducers[k]
		if !ok {
			result[k] = v
			continue
		}
		merged, err := reducer(result[k], v)
		if err != nil {
			return nil, fmt.Errorf("reduce field %q: %w", k, err)
		}
		result[k] = merged
	}

	return result, nil
}

// Common Reducers

// OverwriteReducer replaces the current value with the incoming one. This is
// the behavior fields without a registered reducer get.
func OverwriteReducer(current, incoming any) (any, error) {
	return incoming, nil
}

// SumReducer adds the incoming numeric value to the current one. A nil current
// value counts as zero. Mixed int/float pairs are summed as float64.
func SumReducer(current, incoming any) (any, error) {
	if current == nil {
		current = 0
	}

	switch cur := current.(type) {
	case int:
		switch inc := incoming.(type) {
		case int:
			return cur + inc, nil
		case float64:
			return float64(cur) + inc, nil
		}
	case float64:
		switch inc := incoming.(type) {
		case int:
			return cur + float64(inc), nil
		case float64:
			return cur + inc, nil
		}
	default:
		return nil, fmt.Errorf("%w: cannot sum into %T", ErrReducerType, current)
	}

	return nil, fmt.Errorf("%w: cannot sum %T into %T", ErrReducerType, incoming, current)
}

// AppendReducer appends the incoming value to the current slice.
// It supports appending a slice to a slice, or a single element to a slice.
//
// The result is always a freshly allocated slice. Appending in place could
// write into the spare capacity of a backing array shared with a stored
// snapshot, and stored history must never change.
func AppendReducer(current, incoming any) (any, error) {
	if current == nil {
		newVal := reflect.ValueOf(incoming)
		if newVal.Kind() == reflect.Slice {
			c := reflect.MakeSlice(newVal.Type(), newVal.Len(), newVal.Len())
			reflect.Copy(c, newVal)
			return c.Interface(), nil
		}
		return []any{incoming}, nil
	}

	currVal := reflect.ValueOf(current)
	newVal := reflect.ValueOf(incoming)

	if currVal.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%w: cannot append to %T", ErrReducerType, current)
	}

	if newVal.Kind() == reflect.Slice {
		if currVal.Type().Elem() == newVal.Type().Elem() {
			c := reflect.MakeSlice(currVal.Type(), 0, currVal.Len()+newVal.Len())
			c = reflect.AppendSlice(c, currVal)
			c = reflect.AppendSlice(c, newVal)
			return c.Interface(), nil
		}
		// Element types differ, fall back to []any.
		result := make([]any, 0, currVal.Len()+newVal.Len())
		for i := 0; i < currVal.Len(); i++ {
			result = append(result, currVal.Index(i).Interface())
		}
		for i := 0; i < newVal.Len(); i++ {
			result = append(result, newVal.Index(i).Interface())
		}
		return result, nil
	}

	if currVal.Type().Elem() != newVal.Type() && currVal.Type().Elem().Kind() != reflect.Interface {
		result := make([]any, 0, currVal.Len()+1)
		for i := 0; i < currVal.Len(); i++ {
			result = append(result, currVal.Index(i).Interface())
		}
		return append(result, incoming), nil
	}

	c := reflect.MakeSlice(currVal.Type(), 0, currVal.Len()+1)
	c = reflect.AppendSlice(c, currVal)
	c = reflect.Append(c, newVal)
	return c.Interface(), nil
}
