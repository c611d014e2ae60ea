package roles

// Role represents an organization-level role
type Role string

const (
	RoleOwner  Role = "owner"  // Full control, exactly one per organization
	RoleAdmin  Role = "admin"  // Can manage members and settings
	RoleMember Role = "member" // Can create content
	RoleViewer Role = "viewer" // Read-only access
)

// Permission represents a named capability granted by a role
type Permission string

const (
	PermissionViewOrganization   Permission = "view_organization"
	PermissionViewMembers        Permission = "view_members"
	PermissionCreateContent      Permission = "create_content"
	PermissionInviteMembers      Permission = "invite_members"
	PermissionRemoveMembers      Permission = "remove_members"
	PermissionChangeRoles        Permission = "change_roles"
	PermissionUpdateOrganization Permission = "update_organization"
	PermissionTransferOwnership  Permission = "transfer_ownership"
	PermissionDeleteOrganization Permission = "delete_organization"
	PermissionManageBilling      Permission = "manage_billing"
)

// PermissionSet is the resolved set of permissions for a role
type PermissionSet map[Permission]struct{}

// Has reports whether the set contains the permission
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Contains reports whether the set is a superset of other
func (s PermissionSet) Contains(other PermissionSet) bool {
	for p := range other {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Definition declares the permissions for one role in the hierarchy.
// InheritsFrom names another role whose resolved permission set is unioned
// into this role's set. Definitions for names outside the hierarchy are
// ignored during resolution.
type Definition struct {
	Name         string   `yaml:"name" json:"name"`
	InheritsFrom string   `yaml:"inherits_from,omitempty" json:"inherits_from,omitempty"`
	Permissions  []string `yaml:"permissions" json:"permissions"`
}

// Hierarchy returns the role order, highest authority first.
func Hierarchy() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleMember, RoleViewer}
}

// Valid reports whether the role is part of the hierarchy
func Valid(r Role) bool {
	for _, h := range Hierarchy() {
		if h == r {
			return true
		}
	}
	return false
}

// DefaultDefinitions returns the built-in permission table, declared lowest
// role first so each entry inherits the one before it.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name: string(RoleViewer),
			Permissions: []string{
				string(PermissionViewOrganization),
				string(PermissionViewMembers),
			},
		},
		{
			Name:         string(RoleMember),
			InheritsFrom: string(RoleViewer),
			Permissions: []string{
				string(PermissionCreateContent),
			},
		},
		{
			Name:         string(RoleAdmin),
			InheritsFrom: string(RoleMember),
			Permissions: []string{
				string(PermissionInviteMembers),
				string(PermissionRemoveMembers),
				string(PermissionChangeRoles),
				string(PermissionUpdateOrganization),
			},
		},
		{
			Name:         string(RoleOwner),
			InheritsFrom: string(RoleAdmin),
			Permissions: []string{
				string(PermissionTransferOwnership),
				string(PermissionDeleteOrganization),
				string(PermissionManageBilling),
			},
		},
	}
}
