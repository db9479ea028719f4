package access

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// DefaultTenantField is the body field carrying a tenant id.
const DefaultTenantField = "tenantId"

// Sanitization describes a client-supplied tenant id that was overridden.
type Sanitization struct {
	Field     string
	Attempted string
	Used      string
	Route     string
}

// RouteAllowList is an immutable set of routes that bypass the guard.
// Entries are either "METHOD /route/template" or a bare "/route/template"
// matching every method.
type RouteAllowList struct {
	exact map[string]struct{}
	any   map[string]struct{}
}

// NewRouteAllowList parses allow-list entries. Blank entries are ignored.
func NewRouteAllowList(entries []string) *RouteAllowList {
	l := &RouteAllowList{exact: map[string]struct{}{}, any: map[string]struct{}{}}
	for _, e := range entries {
		fields := strings.Fields(e)
		switch len(fields) {
		case 1:
			l.any[fields[0]] = struct{}{}
		case 2:
			l.exact[strings.ToUpper(fields[0])+" "+fields[1]] = struct{}{}
		}
	}
	return l
}

// Allows reports whether method+route bypasses the guard.
func (l *RouteAllowList) Allows(method, route string) bool {
	if l == nil || route == "" {
		return false
	}
	if _, ok := l.any[route]; ok {
		return true
	}
	_, ok := l.exact[strings.ToUpper(method)+" "+route]
	return ok
}

// Len returns the number of entries.
func (l *RouteAllowList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.exact) + len(l.any)
}

// Guard replaces client-supplied tenant ids in mutating request bodies with
// the tenant derived from the authenticated session. It is safe for
// concurrent use; the allow-list can be swapped at runtime.
type Guard struct {
	field   string
	aliases []string
	allow   atomic.Pointer[RouteAllowList]
}

// NewGuard creates a Guard that writes field and strips field plus aliases.
func NewGuard(field string, aliases []string, allowList []string) *Guard {
	if field == "" {
		field = DefaultTenantField
	}
	g := &Guard{field: field}
	for _, a := range aliases {
		if a != "" && a != field {
			g.aliases = append(g.aliases, a)
		}
	}
	g.SetAllowList(allowList)
	return g
}

// Field returns the body field the guard writes.
func (g *Guard) Field() string {
	return g.field
}

// SetAllowList atomically replaces the bypass list.
func (g *Guard) SetAllowList(entries []string) {
	g.allow.Store(NewRouteAllowList(entries))
}

// Bypassed reports whether the route is on the allow-list.
func (g *Guard) Bypassed(method, route string) bool {
	return g.allow.Load().Allows(method, route)
}

// Sanitize returns a copy of body carrying the tenant id the caller is
// entitled to write, and a non-nil *Sanitization when the client asked for a
// different one. The input map is not modified.
//
// Every tenant field is removed. A super_operator gets its own value back
// verbatim; everyone else gets p.HomeTenantID.
func (g *Guard) Sanitize(p Principal, body map[string]interface{}, route string) (map[string]interface{}, *Sanitization) {
	out := make(map[string]interface{}, len(body)+1)
	var (
		supplied    interface{}
		hasSupplied bool
	)

	for k, v := range body {
		if k == g.field || g.isAlias(k) {
			if !hasSupplied || k == g.field {
				supplied, hasSupplied = v, true
			}
			continue
		}
		out[k] = v
	}

	if p.Role == RoleSuperOperator {
		if hasSupplied {
			out[g.field] = supplied
		}
		return out, nil
	}

	out[g.field] = p.HomeTenantID

	attempted := renderTenantValue(supplied)
	if !hasSupplied || attempted == "" || sameTenant(attempted, p.HomeTenantID) {
		return out, nil
	}
	return out, &Sanitization{
		Field:     g.field,
		Attempted: attempted,
		Used:      p.HomeTenantID,
		Route:     route,
	}
}

func (g *Guard) isAlias(k string) bool {
	for _, a := range g.aliases {
		if a == k {
			return true
		}
	}
	return false
}

// renderTenantValue turns a decoded JSON value into the string form used in
// comparisons and audit details. null renders as "".
func renderTenantValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func sameTenant(a, b string) bool {
	if ca, ok := CanonicalTenantID(a); ok {
		if cb, ok := CanonicalTenantID(b); ok {
			return ca == cb
		}
	}
	return a == b
}
