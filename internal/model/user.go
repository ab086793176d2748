package model

// Role names carried in the JWT "role" claim.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
	RoleManager    = "MANAGER"
	RoleBidder     = "BIDDER"
)

// IsPrivileged reports whether the role sees real bidder identities.
func IsPrivileged(role string) bool {
	switch role {
	case RoleSuperAdmin, RoleAdmin, RoleManager:
		return true
	}
	return false
}

// IsKnownRole reports whether role is one of the four roles above.
func IsKnownRole(role string) bool {
	return role == RoleBidder || IsPrivileged(role)
}

// Identity is the verified caller attached to a request or connection.
type Identity struct {
	UserID   uint64
	TenantID uint64
	Role     string
}

// BidderNames are the two display variants of a bidder.
type BidderNames struct {
	Name  string // users.name
	Email string // users.email
}
