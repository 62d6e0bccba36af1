package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"call-ledger/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, service, role string, allowed ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", service, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireService(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve(t, "ops", RoleSuperAdmin, RoleCallControl); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_HiddenRoleDeniedUnlessAllowed(t *testing.T) {
	if code := serve(t, "ops", RoleAuditor, RoleAdmin); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, "ops", RoleAuditor, RoleAdmin, RoleAuditor); code != 200 {
		t.Fatalf("expected 200 when opted in, got %d", code)
	}
}

func TestRequireAnyRole_WrongRoleForbidden(t *testing.T) {
	if code := serve(t, "checkout", RolePaymentGateway, RoleCallControl); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireService_Required(t *testing.T) {
	if code := serve(t, "", RoleCallControl, RoleCallControl); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}
