// Package uri implements the hierarchical+query identifiers used to address
// introspection items, of the form scheme://path?query.
//
// The path identifies an entity ("world/default"); the query selects a field
// or attribute of it ("p=pose/world_pose/vector3/position/double/x"). Two
// URIs with equal paths where one query is a string prefix of the other name
// the same underlying published item at different granularity.
package uri

import (
	"strings"

	"github.com/c360/plotstream/errors"
)

// URI is a parsed item identifier.
type URI struct {
	Scheme string
	Path   Path
	Query  Query
}

// Path is the hierarchical part of a URI, as cleaned segments.
type Path []string

// Query is the raw query part of a URI (everything after '?').
type Query string

// Parse parses s as scheme://path?query. The scheme and a non-empty path are
// required; the query is optional.
func Parse(s string) (URI, error) {
	idx := strings.Index(s, "://")
	if idx <= 0 {
		return URI{}, errors.WrapInvalid(errors.ErrInvalidURI, "uri", "Parse", "missing scheme delimiter in "+s)
	}

	scheme := s[:idx]
	if !validScheme(scheme) {
		return URI{}, errors.WrapInvalid(errors.ErrInvalidURI, "uri", "Parse", "bad scheme in "+s)
	}

	rest := s[idx+3:]
	var query Query
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		query = Query(rest[q+1:])
		rest = rest[:q]
	}

	path := parsePath(rest)
	if len(path) == 0 {
		return URI{}, errors.WrapInvalid(errors.ErrInvalidURI, "uri", "Parse", "empty path in "+s)
	}

	return URI{Scheme: scheme, Path: path, Query: query}, nil
}

// String serializes the URI back to scheme://path?query form.
func (u URI) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Path.String())
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(string(u.Query))
	}
	return b.String()
}

// Valid reports whether the URI carries a scheme and a non-empty path.
func (u URI) Valid() bool {
	return validScheme(u.Scheme) && len(u.Path) > 0
}

func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}

func parsePath(s string) Path {
	parts := strings.Split(s, "/")
	path := make(Path, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			path = append(path, p)
		}
	}
	return path
}

// Equal reports structural equality of two paths.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// String joins the path segments with '/'.
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Str returns the raw query string.
func (q Query) Str() string {
	return string(q)
}

// Extends reports whether q is an extension (string-prefix superset) of base:
// base addresses the same item with equal or lower specificity. A registered
// item with query "p=world_pose" serves a request for
// "p=world_pose/position/x", so the request query extends the item query.
func (q Query) Extends(base Query) bool {
	return strings.HasPrefix(string(q), string(base))
}

// Contains reports whether the query contains the given substring. Field
// selection for composite values is substring-based.
func (q Query) Contains(sub string) bool {
	return strings.Contains(string(q), sub)
}

// LastByte returns the final character of the query, or 0 when empty. Scalar
// component selection for vectors keys off the trailing character.
func (q Query) LastByte() byte {
	if len(q) == 0 {
		return 0
	}
	return q[len(q)-1]
}
