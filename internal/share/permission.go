package share

// Permission is an access level carried by a share. Levels are ordered:
// read < write < admin. Owners hold admin implicitly.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

var permissionRank = map[Permission]int{
	PermissionRead:  1,
	PermissionWrite: 2,
	PermissionAdmin: 3,
}

// Valid reports whether p is a recognized permission level.
func (p Permission) Valid() bool {
	_, ok := permissionRank[p]
	return ok
}

// AtLeast reports whether p grants everything required does.
func (p Permission) AtLeast(required Permission) bool {
	return permissionRank[p] >= permissionRank[required]
}
