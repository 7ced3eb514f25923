// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package models

// Payload is the JSON object body of a record or action.
type Payload map[string]any

// Clone returns a deep copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case Payload:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Merge applies patch on top of a copy of p and returns the result.
// A nil value in patch removes the key.
func (p Payload) Merge(patch Payload) Payload {
	out := p.Clone()
	if out == nil {
		out = make(Payload, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// ReplaceString returns a copy of p with every string value equal to old
// replaced by replacement, at any depth. The bool reports whether anything
// changed.
func (p Payload) ReplaceString(old, replacement string) (Payload, bool) {
	if p == nil {
		return nil, false
	}
	out, changed := replaceIn(map[string]any(p), old, replacement)
	return Payload(out.(map[string]any)), changed
}

func replaceIn(v any, old, replacement string) (any, bool) {
	switch t := v.(type) {
	case string:
		if t == old {
			return replacement, true
		}
		return t, false
	case Payload:
		return replaceIn(map[string]any(t), old, replacement)
	case map[string]any:
		out := make(map[string]any, len(t))
		changed := false
		for k, e := range t {
			nv, c := replaceIn(e, old, replacement)
			out[k] = nv
			changed = changed || c
		}
		return out, changed
	case []any:
		out := make([]any, len(t))
		changed := false
		for i, e := range t {
			nv, c := replaceIn(e, old, replacement)
			out[i] = nv
			changed = changed || c
		}
		return out, changed
	default:
		return v, false
	}
}

// TempIDs returns the distinct temp ids held as string values in p, at any
// depth, in first-seen order.
func (p Payload) TempIDs() []string {
	var out []string
	seen := map[string]bool{}
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if IsTempID(t) && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		case Payload:
			walk(map[string]any(t))
		case map[string]any:
			for _, e := range t {
				walk(e)
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(map[string]any(p))
	return out
}

// Matches reports whether every key in want is present in p with an equal
// scalar value.
func (p Payload) Matches(want map[string]any) bool {
	for k, w := range want {
		got, ok := p[k]
		if !ok || !scalarEqual(got, w) {
			return false
		}
	}
	return true
}

// scalarEqual compares decoded JSON scalars. Numbers compare by float64 value
// because JSON decoding yields float64 while callers often pass ints.
func scalarEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch a.(type) {
	case string, bool, nil:
		return a == b
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
