package rbac

import (
	"net/http"

	"call-ledger/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireService enforces that the token names the calling service.
// Every mutating ledger route records which collaborator drove it.
func RequireService() gin.HandlerFunc {
	return func(c *gin.Context) {
		svc, err := auth.Service(c.Request.Context())
		if err != nil || svc == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "service required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - auditor is a hidden role, and will be denied unless explicitly allowed
// - the calling service is enforced via RequireService (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
