// Package roles defines the organization role hierarchy and resolves the
// permission set for each role.
//
// # Hierarchy
//
// Roles form a total order, highest authority first:
//
//	owner > admin > member > viewer
//
// Every role inherits the full permission set of every role below it, so a
// higher role's permissions are always a superset of a lower role's.
//
// # Custom roles
//
// The built-in permission table can be replaced with declarative definitions:
//
//	registry := roles.NewRegistry()
//	registry.SetDefinitions([]roles.Definition{
//		{Name: "viewer", Permissions: []string{"view_organization"}},
//		{Name: "member", InheritsFrom: "viewer", Permissions: []string{"create_content"}},
//		{Name: "admin", InheritsFrom: "member", Permissions: []string{"invite_members"}},
//		{Name: "owner", InheritsFrom: "admin", Permissions: []string{"transfer_ownership"}},
//	})
//
// Definitions naming roles outside the hierarchy are ignored. Resolution is
// cached; SetDefinitions and Reset invalidate the cache and the table is
// recomputed lazily on the next lookup.
//
// # Related Packages
//
//   - pkg/orgs: membership mutations consult this registry for permission checks
//   - pkg/config: loads custom definitions from a YAML file
package roles
