package txstore

import "strings"

// Role is a database privilege scope. Read-only variants end in "_ro".
type Role string

const (
	RoleProxy   Role = "tq_proxy"
	RoleProxyRO Role = "tq_proxy_ro"
	RoleUsers   Role = "tq_users"
	RoleUsersRO Role = "tq_users_ro"
	RoleConv    Role = "tq_conv"
	RoleConvRO  Role = "tq_conv_ro"
)

var knownRoles = map[Role]struct{}{
	RoleProxy:   {},
	RoleProxyRO: {},
	RoleUsers:   {},
	RoleUsersRO: {},
	RoleConv:    {},
	RoleConvRO:  {},
}

// ParseRole maps a role name such as "tq_users_ro" to a Role.
func ParseRole(name string) (Role, error) {
	role := Role(strings.TrimSpace(name))
	if _, ok := knownRoles[role]; !ok {
		return "", ErrUnknownRole
	}
	return role, nil
}

func (r Role) ReadOnly() bool {
	return strings.HasSuffix(string(r), "_ro")
}

// ReadOnlyVariant returns the read-only counterpart of r.
func (r Role) ReadOnlyVariant() Role {
	if r == "" || r.ReadOnly() {
		return r
	}
	return r + "_ro"
}

func (r Role) String() string {
	return string(r)
}

var writeVerbs = map[string]struct{}{
	"INSERT":   {},
	"UPDATE":   {},
	"DELETE":   {},
	"UPSERT":   {},
	"REPLACE":  {},
	"MERGE":    {},
	"CREATE":   {},
	"DROP":     {},
	"ALTER":    {},
	"TRUNCATE": {},
	"GRANT":    {},
	"REVOKE":   {},
}

// isWrite reports whether a statement modifies data or schema. Common table
// expressions are checked for embedded data-modifying verbs.
func isWrite(query string) bool {
	fields := strings.Fields(strings.ToUpper(query))
	if len(fields) == 0 {
		return false
	}
	if _, ok := writeVerbs[fields[0]]; ok {
		return true
	}
	if fields[0] != "WITH" {
		return false
	}
	for _, f := range fields[1:] {
		switch strings.TrimLeft(f, "(") {
		case "INSERT", "UPDATE", "DELETE":
			return true
		}
	}
	return false
}
