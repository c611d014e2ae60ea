package roles

import (
	"sync"
)

// Registry resolves roles to permission sets and answers hierarchy queries.
// Lookups are O(1) against a cached table; the table is recomputed lazily
// after SetDefinitions or Reset. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	definitions []Definition
	resolved    map[Role]PermissionSet
	rank        map[Role]int
}

// NewRegistry creates a registry using the built-in permission table.
func NewRegistry() *Registry {
	r := &Registry{
		definitions: DefaultDefinitions(),
		rank:        make(map[Role]int),
	}
	for i, role := range Hierarchy() {
		r.rank[role] = i
	}
	return r
}

// SetDefinitions replaces the permission table with custom definitions and
// invalidates the cache. Definitions naming roles outside the hierarchy are
// kept but contribute nothing during resolution.
func (r *Registry) SetDefinitions(defs []Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions = make([]Definition, len(defs))
	copy(r.definitions, defs)
	r.resolved = nil
}

// Reset invalidates the cached permission table. The table is recomputed on
// the next lookup. Call this whenever the definitions backing a registry
// change out of band.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = nil
}

// PermissionsFor returns a copy of the resolved permission set for the role.
// Unknown roles yield an empty set, never an error.
func (r *Registry) PermissionsFor(role Role) PermissionSet {
	table := r.table()
	set, ok := table[role]
	if !ok {
		return PermissionSet{}
	}
	out := make(PermissionSet, len(set))
	for p := range set {
		out[p] = struct{}{}
	}
	return out
}

// HasPermission reports whether the role's resolved set contains the
// permission. Unknown roles or permissions yield false.
func (r *Registry) HasPermission(role Role, perm Permission) bool {
	set, ok := r.table()[role]
	return ok && set.Has(perm)
}

// AtLeast reports whether role a holds equal or higher authority than role b.
// An unknown role never outranks a known one.
func (r *Registry) AtLeast(a, b Role) bool {
	return r.Compare(a, b) >= 0
}

// Compare returns 1 if a outranks b, -1 if b outranks a, and 0 if they are
// the same rank. Unknown roles sort below every known role and equal to each
// other.
func (r *Registry) Compare(a, b Role) int {
	ra, aKnown := r.rank[a]
	rb, bKnown := r.rank[b]
	switch {
	case !aKnown && !bKnown:
		return 0
	case !aKnown:
		return -1
	case !bKnown:
		return 1
	}
	// Lower index means higher authority.
	switch {
	case ra < rb:
		return 1
	case ra > rb:
		return -1
	default:
		return 0
	}
}

// table returns the resolved permission table, computing it if the cache was
// invalidated.
func (r *Registry) table() map[Role]PermissionSet {
	r.mu.RLock()
	resolved := r.resolved
	r.mu.RUnlock()
	if resolved != nil {
		return resolved
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved == nil {
		r.resolved = resolve(r.definitions)
	}
	return r.resolved
}

// resolve builds the permission table from definitions. Roles are processed
// from the lowest rank to the highest so an inherits pointer to a lower role
// always finds an already-resolved set. Only hierarchy roles are
// materialized.
func resolve(defs []Definition) map[Role]PermissionSet {
	byName := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}

	hierarchy := Hierarchy()
	table := make(map[Role]PermissionSet, len(hierarchy))
	for i := len(hierarchy) - 1; i >= 0; i-- {
		role := hierarchy[i]
		set := make(PermissionSet)
		def, ok := byName[string(role)]
		if !ok {
			table[role] = set
			continue
		}
		for _, p := range def.Permissions {
			set[Permission(p)] = struct{}{}
		}
		if parent, ok := table[Role(def.InheritsFrom)]; ok {
			for p := range parent {
				set[p] = struct{}{}
			}
		}
		table[role] = set
	}
	return table
}
