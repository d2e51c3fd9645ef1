package auth

import (
	"strings"

	"github.com/nerrad567/sqlitetool/internal/store"
)

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermSchemaRead  Permission = "schema:read"
	PermDataRead    Permission = "data:read"
	PermDataWrite   Permission = "data:write"
	PermSchemaWrite Permission = "schema:write"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleReader: {
		PermSchemaRead,
		PermDataRead,
	},
	RoleWriter: {
		PermSchemaRead,
		PermDataRead,
		PermDataWrite,
	},
	RoleAdmin: {
		PermSchemaRead,
		PermDataRead,
		PermDataWrite,
		PermSchemaWrite,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionFor returns the permission an operation requires. query is
// only consulted for raw execution, where SELECT needs data:read and any
// other statement needs data:write. Unknown operations need schema:write.
func PermissionFor(op, query string) Permission {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case store.OpListTables, store.OpDescribeSchema, store.OpDescribeTable:
		return PermSchemaRead
	case store.OpExecute:
		if store.IsRead(query) {
			return PermDataRead
		}
		return PermDataWrite
	case store.OpInsert, store.OpUpdate, store.OpDelete:
		return PermDataWrite
	default:
		return PermSchemaWrite
	}
}
