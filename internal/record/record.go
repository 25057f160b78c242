package record

import "encoding/json"

// Record is one schemaless JSON object flowing through a pipeline.
// Fields accumulate as operators add or merge keys; records carry no
// identity beyond their position in the current sequence.
type Record map[string]any

// Sequence is an ordered list of records. Empty sequences are valid and
// propagate through every operator.
type Sequence []Record

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into the record, overwriting existing
// keys of the same name.
func (r Record) Merge(other map[string]any) {
	for k, v := range other {
		r[k] = v
	}
}

// GetString returns the string value at key, or def when the key is
// absent or holds a non-string.
func (r Record) GetString(key, def string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return def
}

// GetSlice returns the array value at key.
func (r Record) GetSlice(key string) ([]any, bool) {
	v, ok := r[key].([]any)
	return v, ok
}

// FromAny seeds a sequence from arbitrary decoded JSON input. Arrays
// become one record per element; any other value becomes a
// single-element sequence. Non-object elements are wrapped under "value"
// so the sequence stays a list of open objects.
func FromAny(input any) Sequence {
	switch v := input.(type) {
	case nil:
		return Sequence{}
	case []any:
		out := make(Sequence, 0, len(v))
		for _, el := range v {
			out = append(out, asRecord(el))
		}
		return out
	case []map[string]any:
		out := make(Sequence, 0, len(v))
		for _, el := range v {
			out = append(out, Record(el))
		}
		return out
	case map[string]any:
		return Sequence{Record(v)}
	case Record:
		return Sequence{v}
	case Sequence:
		return v
	default:
		return Sequence{asRecord(input)}
	}
}

func asRecord(v any) Record {
	if m, ok := v.(map[string]any); ok {
		return Record(m)
	}
	return Record{"value": v}
}

// CanonicalKey renders a JSON value as a deterministic grouping key.
// Every value is keyed by its JSON encoding, strings included: the
// quotes keep "5" apart from the number 5 and "null" apart from an
// absent value, so only equal values of the same type share a group.
func CanonicalKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
