package shared

// Core engine permissions.
const (
	PermRolesView   = "roles.view"
	PermRolesCreate = "roles.create"
	PermRolesEdit   = "roles.edit"
	PermRolesDelete = "roles.delete"
	PermRolesAssign = "roles.assign"

	PermPermissionsView   = "permissions.view"
	PermPermissionsCreate = "permissions.create"
	PermPermissionsEdit   = "permissions.edit"
	PermPermissionsDelete = "permissions.delete"

	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"
)

// SuperAdminRole is the distinguished system role whose holders bypass
// capability checks entirely.
const SuperAdminRole = "super_admin"

// CoreScopes lists all permissions the engine itself gates on.
func CoreScopes() []string {
	return []string{
		PermRolesView,
		PermRolesCreate,
		PermRolesEdit,
		PermRolesDelete,
		PermRolesAssign,
		PermPermissionsView,
		PermPermissionsCreate,
		PermPermissionsEdit,
		PermPermissionsDelete,
		PermUsersView,
		PermUsersEdit,
	}
}
