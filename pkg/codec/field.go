package codec

import "encoding/json"

// Field represents a sparse JSON value: a key can be entirely absent from a
// frame (Present=false, meaning "unchanged"), explicitly
// null (Present=true, Null=true, meaning "clear this field"), or carry a
// value. A plain pointer field cannot distinguish the first two cases
// because encoding/json collapses both to the zero value.
type Field[T any] struct {
	Present bool
	Null    bool
	Value   T
}

// Set reports whether the field carries a concrete value (present and not null).
func (f Field[T]) Set() bool {
	return f.Present && !f.Null
}

func extractField[T any](raw map[string]json.RawMessage, key string) (Field[T], error) {
	rm, ok := raw[key]
	if !ok {
		return Field[T]{}, nil
	}
	if string(rm) == "null" {
		return Field[T]{Present: true, Null: true}, nil
	}
	var v T
	if err := json.Unmarshal(rm, &v); err != nil {
		return Field[T]{}, err
	}
	return Field[T]{Present: true, Value: v}, nil
}
