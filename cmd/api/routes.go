package main

import (
	"call-ledger/internal/auth"
	"call-ledger/internal/httpapi"
	"call-ledger/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, devLogin bool) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if devLogin {
		r.POST("/v1/auth/login", h.Login)
	}

	// Payment gateway callbacks. Authenticated with a gateway service token.
	webhooks := r.Group("/webhooks")
	webhooks.Use(authMW)
	webhooks.Use(httpapi.RequireServiceAndAnyRole(rbac.RolePaymentGateway)...)
	{
		webhooks.POST("/payments", h.PaymentWebhook)
	}

	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			svc, _ := auth.Service(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "service": svc, "role": role})
		})

		// SETTLEMENT routes, driven by call control.
		settlements := v1.Group("/settlements")
		settlements.Use(httpapi.RequireServiceAndAnyRole(rbac.RoleCallControl)...)
		{
			settlements.POST("/calls", h.SettleCall)
			settlements.POST("/plans", h.DeductPlan)
		}

		// FUNDING registration, ahead of the gateway callback.
		fundings := v1.Group("/fundings")
		fundings.Use(httpapi.RequireServiceAndAnyRole(rbac.RolePaymentGateway)...)
		{
			fundings.POST("", h.StartFunding)
		}

		// ADMIN routes. Read-only.
		// The hidden auditor role is opted in here and nowhere else.
		admin := v1.Group("/admin")
		admin.Use(httpapi.RequireServiceAndAnyRole(rbac.RoleAdmin, rbac.RoleAuditor)...)
		{
			admin.GET("/wallets/:user_id", h.GetWallet)
			admin.GET("/wallets/:user_id/summary", h.GetSummary)
			admin.GET("/earnings/:user_id", h.GetEarnings)
			admin.GET("/rates", h.GetRates)
			admin.GET("/audit/:user_id", h.GetAudit)
		}
	}
}
