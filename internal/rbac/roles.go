package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleCallControl    = "call_control"
	RolePaymentGateway = "payment_gateway"
	RoleAdmin          = "admin"
	RoleSuperAdmin     = "super_admin"
	RoleAuditor        = "auditor" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleAuditor }
