package auth

const (
	ResourceCollections = "collections"
	ResourceUsers       = "users"
	ResourceAdmins      = "admins"
	ResourceSettings    = "settings"
	ResourceRoles       = "roles"
	ResourceAuditLogs   = "audit_logs"

	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// SuperAdminRole is seeded with every builtin permission.
const SuperAdminRole = "Super Admin"

// BuiltinPermissions is the default permission catalog.
var BuiltinPermissions = builtinPermissions()

func builtinPermissions() []Permission {
	crud := []string{ResourceCollections, ResourceUsers, ResourceAdmins, ResourceSettings, ResourceRoles}
	actions := []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
	perms := make([]Permission, 0, len(crud)*len(actions)+1)
	for _, resource := range crud {
		for _, action := range actions {
			perms = append(perms, Permission{
				Name:        resource + ":" + action,
				Resource:    resource,
				Action:      action,
				Description: capitalize(action) + " " + resource,
			})
		}
	}
	perms = append(perms, Permission{
		Name:        ResourceAuditLogs + ":" + ActionRead,
		Resource:    ResourceAuditLogs,
		Action:      ActionRead,
		Description: "Read audit logs",
	})
	return perms
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
