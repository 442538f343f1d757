package docstore

import (
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"
)

// Filter selects documents by field equality. An empty filter matches
// every document. Values are compared after JSON normalization, so a
// Go int matches a stored number and structs match their stored shape.
type Filter map[string]any

// Update describes a partial document mutation, the subset of update
// operators the services need: field assignment, numeric increment,
// and array push/pull.
type Update struct {
	Set  map[string]any
	Inc  map[string]int
	Push map[string]any
	Pull map[string]any
}

// FindOptions shape multi-document queries.
type FindOptions struct {
	SortBy     string // field to order by; empty means key order
	Descending bool
	Offset     int
	Limit      int // 0 means unlimited
}

// normalize round-trips a value through JSON so filter/update values
// compare cleanly against decoded documents (numbers become float64,
// structs become maps).
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "normalizing value")
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "normalizing value")
	}
	return out, nil
}

func (f Filter) matches(doc map[string]any) (bool, error) {
	for field, want := range f {
		normalized, err := normalize(want)
		if err != nil {
			return false, err
		}
		got, ok := doc[field]
		if !ok {
			return false, nil
		}
		if !reflect.DeepEqual(got, normalized) {
			return false, nil
		}
	}
	return true, nil
}

// apply mutates doc in place and reports whether anything changed.
func (u Update) apply(doc map[string]any) (bool, error) {
	modified := false

	for field, value := range u.Set {
		normalized, err := normalize(value)
		if err != nil {
			return false, err
		}
		if !reflect.DeepEqual(doc[field], normalized) {
			doc[field] = normalized
			modified = true
		}
	}

	for field, delta := range u.Inc {
		current, _ := doc[field].(float64)
		doc[field] = current + float64(delta)
		if delta != 0 {
			modified = true
		}
	}

	for field, value := range u.Push {
		normalized, err := normalize(value)
		if err != nil {
			return false, err
		}
		list, _ := doc[field].([]any)
		doc[field] = append(list, normalized)
		modified = true
	}

	for field, value := range u.Pull {
		normalized, err := normalize(value)
		if err != nil {
			return false, err
		}
		list, ok := doc[field].([]any)
		if !ok {
			continue
		}
		kept := make([]any, 0, len(list))
		for _, item := range list {
			if reflect.DeepEqual(item, normalized) {
				modified = true
				continue
			}
			kept = append(kept, item)
		}
		doc[field] = kept
	}

	return modified, nil
}

// compareValues orders two decoded JSON values for sorting. Mixed or
// non-orderable types fall back to equal.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
		}
	}
	return 0
}
