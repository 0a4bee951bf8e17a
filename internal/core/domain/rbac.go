package domain

import "sort"

// Role defines a set of permissions.
type Role struct {
	ID          string
	Name        string
	Description *string
}

// Permission defines a named capability.
type Permission struct {
	ID          string
	Name        string
	Description *string
}

// Group collects users that share role assignments.
type Group struct {
	ID   string
	Name string
}

// AccessGrants is the flattened set of role and permission names carried in access tokens.
type AccessGrants struct {
	Roles       []string
	Permissions []string
}

// GrantSet accumulates role and permission names as a set union.
// The user→role and user→group→role graph is acyclic, so repeated union terminates.
type GrantSet struct {
	roles       map[string]struct{}
	permissions map[string]struct{}
}

// NewGrantSet returns an empty grant set.
func NewGrantSet() *GrantSet {
	return &GrantSet{
		roles:       make(map[string]struct{}),
		permissions: make(map[string]struct{}),
	}
}

// AddRole adds a role name; blanks are ignored.
func (g *GrantSet) AddRole(name string) {
	if name != "" {
		g.roles[name] = struct{}{}
	}
}

// AddPermission adds a permission name; blanks are ignored.
func (g *GrantSet) AddPermission(name string) {
	if name != "" {
		g.permissions[name] = struct{}{}
	}
}

// Grants returns the sorted union.
func (g *GrantSet) Grants() AccessGrants {
	return AccessGrants{
		Roles:       sortedKeys(g.roles),
		Permissions: sortedKeys(g.permissions),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
