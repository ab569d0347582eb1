// Package router provides versioned route registration and lookup for the relay service core.
package router

import "strings"

// ParamMarker prefixes a pattern segment that binds a named parameter.
const ParamMarker = ':'

// segment is a single parsed element of a route pattern.
type segment struct {
	literal string
	param   bool
	name    string
}

// Template is a parsed route pattern such as "/users/:id/books/:bookId".
// Templates are immutable after NewTemplate and safe for concurrent use.
type Template struct {
	original string
	segments []segment
}

// NewTemplate parses a route pattern into a Template. Empty segments from
// leading, trailing, or doubled separators are dropped, so "/users/:id"
// and "users/:id/" describe the same shape.
func NewTemplate(pattern string) *Template {
	parts := strings.Split(pattern, "/")
	segments := make([]segment, 0, len(parts))

	for _, part := range parts {
		if part == "" {
			continue
		}

		if len(part) > 1 && part[0] == ParamMarker {
			segments = append(segments, segment{
				literal: part,
				param:   true,
				name:    part[1:],
			})
			continue
		}

		segments = append(segments, segment{literal: part})
	}

	return &Template{original: pattern, segments: segments}
}

// Match reports whether path matches the template and, on success, returns
// the parameter bindings extracted from it. Bound values are the raw path
// segments; no type coercion happens here. A path whose segment count
// differs from the template's never matches. Literal segments compare
// case-sensitively. Match has no side effects.
func (t *Template) Match(path string) (params map[string]string, matched bool) {
	parts := splitPath(path)
	if len(parts) != len(t.segments) {
		return nil, false
	}

	for i, seg := range t.segments {
		if seg.param {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.name] = parts[i]
			continue
		}

		if seg.literal != parts[i] {
			return nil, false
		}
	}

	return params, true
}

// Pattern returns the original pattern string the template was parsed from.
func (t *Template) Pattern() string {
	return t.original
}

// ParamNames returns the names of the parameters the template binds,
// in pattern order.
func (t *Template) ParamNames() []string {
	names := make([]string, 0, len(t.segments))
	for _, seg := range t.segments {
		if seg.param {
			names = append(names, seg.name)
		}
	}
	return names
}

// splitPath splits a concrete path into its non-empty segments.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}
