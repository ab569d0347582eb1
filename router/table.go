package router

import (
	"net/http"
	"strings"
	"sync"

	"github.com/relaykit/relay"
)

// Methods accepted by the route table. MethodAll registrations match
// requests of any method and are consulted before exact-method lists.
const (
	MethodGet    = http.MethodGet
	MethodPost   = http.MethodPost
	MethodPut    = http.MethodPut
	MethodDelete = http.MethodDelete
	MethodAll    = "ALL"
)

// ParamType names the runtime type a bound route parameter must carry to
// pass the parameter-type validation stage.
type ParamType string

// Parameter types recognized by route rules. Path-bound parameters are
// always strings; number, boolean, array, and object values can only enter
// the parameter mapping through body parsing or handler code.
const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
	TypeAny     ParamType = "any"
)

// Rules maps parameter names to the type each bound value must have.
type Rules map[string]ParamType

// Registration is a single method+pattern+handler tuple held by the Table.
// Registrations are immutable after Register returns.
type Registration struct {
	// Method is the upper-cased HTTP method, or MethodAll.
	Method string
	// Version is the API version the route was qualified with, without
	// surrounding separators. Empty when the route is unversioned.
	Version string
	// Path is the canonical declared path, before version qualification.
	Path string
	// Key is the version-qualified path the route is registered under.
	Key string
	// Pattern is the parsed template for Key.
	Pattern *Template
	// Handler runs when the registration is selected.
	Handler relay.Handler
	// Rules holds the optional parameter-type rules for the route.
	Rules Rules
}

// Match is a successful lookup result.
type Match struct {
	Registration *Registration
	Params       map[string]string
}

// RegisterOption customizes a single registration call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	version    string
	hasVersion bool
	rules      Rules
}

// WithAPIVersion qualifies the route with the given API version instead of
// the table's active version.
func WithAPIVersion(version string) RegisterOption {
	return func(o *registerOptions) {
		o.version = version
		o.hasVersion = true
	}
}

// WithRules attaches parameter-type rules to the registration. The
// validation stage enforces them against bound values after routing.
func WithRules(rules Rules) RegisterOption {
	return func(o *registerOptions) {
		o.rules = rules
	}
}

// Table is the versioned route table: versioned path → method → ordered
// registrations. Registration order is preserved at every level and drives
// lookup precedence. Routes are never removed; registering after the server
// has started is permitted and visible to subsequent lookups.
type Table struct {
	mu      sync.RWMutex
	version string
	keys    []string
	routes  map[string]map[string][]*Registration
	order   []*Registration
}

// NewTable returns an empty route table with no active API version.
func NewTable() *Table {
	return &Table{
		routes: make(map[string]map[string][]*Registration),
	}
}

// SetVersion changes the active API version used to qualify subsequent
// registrations. Keys of already-registered routes are not rewritten.
func (t *Table) SetVersion(version string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.version = strings.Trim(version, "/")
}

// Version returns the active API version.
func (t *Table) Version() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Register adds a route under the active (or per-call) API version and
// returns a Builder whose chained calls declare sub-paths of the original
// path. Method is upper-cased; use MethodAll to match any method.
func (t *Table) Register(method, path string, handler relay.Handler, opts ...RegisterOption) *Builder {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	version := t.version
	if o.hasVersion {
		version = strings.Trim(o.version, "/")
	}
	key := Qualify(version, path)

	reg := &Registration{
		Method:  strings.ToUpper(method),
		Version: version,
		Path:    canonicalPath(path),
		Key:     key,
		Pattern: NewTemplate(key),
		Handler: handler,
		Rules:   o.rules,
	}

	methods, ok := t.routes[key]
	if !ok {
		methods = make(map[string][]*Registration)
		t.routes[key] = methods
		t.keys = append(t.keys, key)
	}
	methods[reg.Method] = append(methods[reg.Method], reg)
	t.order = append(t.order, reg)

	return &Builder{table: t, base: reg.Path}
}

// Lookup resolves a request method and version-qualified path to a
// registration. Registered paths are scanned in registration order; within
// a path the MethodAll list is consulted before the exact-method list. The
// first registration whose pattern matches wins. The boolean is false when
// nothing matches, signalling the caller to fall back.
func (t *Table) Lookup(method, path string) (*Match, bool) {
	method = strings.ToUpper(method)

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, key := range t.keys {
		methods := t.routes[key]
		for _, bucket := range [2][]*Registration{methods[MethodAll], methods[method]} {
			for _, reg := range bucket {
				if params, ok := reg.Pattern.Match(path); ok {
					return &Match{Registration: reg, Params: params}, true
				}
			}
		}
	}

	return nil, false
}

// Routes returns a snapshot of every registration in registration order.
func (t *Table) Routes() []*Registration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Registration, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of registrations in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Builder chains sub-path registrations under a previously declared path.
// Sub-paths extend the original declared path, not its versioned key, so
// every chained call is qualified with the version active (or given) at
// that call.
type Builder struct {
	table *Table
	base  string
}

// Get registers a GET route under the builder's base path plus sub.
func (b *Builder) Get(sub string, handler relay.Handler, opts ...RegisterOption) *Builder {
	return b.register(MethodGet, sub, handler, opts...)
}

// Post registers a POST route under the builder's base path plus sub.
func (b *Builder) Post(sub string, handler relay.Handler, opts ...RegisterOption) *Builder {
	return b.register(MethodPost, sub, handler, opts...)
}

// Put registers a PUT route under the builder's base path plus sub.
func (b *Builder) Put(sub string, handler relay.Handler, opts ...RegisterOption) *Builder {
	return b.register(MethodPut, sub, handler, opts...)
}

// Delete registers a DELETE route under the builder's base path plus sub.
func (b *Builder) Delete(sub string, handler relay.Handler, opts ...RegisterOption) *Builder {
	return b.register(MethodDelete, sub, handler, opts...)
}

// All registers a route matching any method under the builder's base path
// plus sub.
func (b *Builder) All(sub string, handler relay.Handler, opts ...RegisterOption) *Builder {
	return b.register(MethodAll, sub, handler, opts...)
}

func (b *Builder) register(method, sub string, handler relay.Handler, opts ...RegisterOption) *Builder {
	b.table.Register(method, joinPaths(b.base, sub), handler, opts...)
	return b
}

// Qualify produces the version-qualified key form of a declared path. An
// empty version yields the canonical path unchanged.
func Qualify(version, path string) string {
	p := canonicalPath(path)
	v := strings.Trim(version, "/")
	if v == "" {
		return p
	}
	if p == "/" {
		return "/" + v
	}
	return "/" + v + p
}

// canonicalPath normalizes a declared path to a single leading separator
// and no trailing separator. The empty path canonicalizes to "/".
func canonicalPath(path string) string {
	return "/" + strings.Trim(path, "/")
}

// joinPaths appends a sub-path to a base path, canonicalizing both.
func joinPaths(base, sub string) string {
	base = canonicalPath(base)
	sub = strings.Trim(sub, "/")
	if sub == "" {
		return base
	}
	if base == "/" {
		return "/" + sub
	}
	return base + "/" + sub
}
