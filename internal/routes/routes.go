package routes

import (
	"clinical-forms-server/internal/audit"
	"clinical-forms-server/internal/config"
	"clinical-forms-server/internal/forms"
	"clinical-forms-server/internal/handlers"
	"clinical-forms-server/internal/middleware"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"
	"clinical-forms-server/internal/signatures"
	"clinical-forms-server/internal/versions"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services bundles the core components the HTTP layer adapts.
type Services struct {
	Repo       repository.Repository
	Engine     *permission.Engine
	Ledger     *audit.Ledger
	Forms      *forms.Service
	Versions   *versions.Store
	Signatures *signatures.Workflow
	Logger     *zap.Logger
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, svc *Services, cfg *config.Config) {
	denials := &handlers.DenialRecorder{
		Ledger:  svc.Ledger,
		Enabled: cfg.Audit.RecordDenials,
		Logger:  svc.Logger,
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(svc.Engine)
	formHandler := handlers.NewFormHandler(svc.Forms, svc.Repo, denials)
	versionHandler := handlers.NewVersionHandler(svc.Versions, svc.Repo, denials)
	signatureHandler := handlers.NewSignatureHandler(svc.Signatures, denials)
	auditHandler := handlers.NewAuditHandler(svc.Ledger, denials)
	templateHandler := handlers.NewTemplateHandler(svc.Repo, svc.Logger)

	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(cfg))
	{
		private.GET("/auth/permissions", authHandler.GetPermissions)

		templateRoutes := private.Group("/templates")
		{
			templateRoutes.GET("", templateHandler.ListTemplates)
			templateRoutes.GET("/:id", templateHandler.GetTemplate)
			templateRoutes.POST("", middleware.RoleAuthMiddleware(models.RoleAdmin), templateHandler.CreateTemplate)
		}

		// Permission checks for everything below happen in the core services
		formRoutes := private.Group("/forms")
		{
			formRoutes.POST("", formHandler.CreateForm)
			formRoutes.GET("", formHandler.ListForms)
			formRoutes.GET("/:id", formHandler.GetForm)
			formRoutes.PUT("/:id/data", formHandler.UpdateFormData)
			formRoutes.POST("/:id/transitions", formHandler.TransitionForm)
			formRoutes.DELETE("/:id", formHandler.DeleteForm)

			formRoutes.GET("/:id/versions", versionHandler.ListVersions)
			formRoutes.POST("/:id/versions", versionHandler.CreateVersion)
			formRoutes.GET("/:id/versions/compare", versionHandler.CompareVersions)
			formRoutes.GET("/:id/versions/:versionId", versionHandler.GetVersion)
			formRoutes.POST("/:id/versions/:versionId/restore", versionHandler.RestoreVersion)

			formRoutes.GET("/:id/signatures", signatureHandler.ListSignatures)
			formRoutes.GET("/:id/signatures/status", signatureHandler.GetSignatureStatus)
			formRoutes.POST("/:id/sign", signatureHandler.SignForm)
			formRoutes.POST("/:id/signatures/:signatureId/revoke", signatureHandler.RevokeSignature)

			formRoutes.GET("/:id/audit-trail", auditHandler.GetFormAuditTrail)
			formRoutes.GET("/:id/audit-trail/export", auditHandler.ExportFormAuditTrail)
		}

		private.GET("/audit", middleware.RoleAuthMiddleware(models.RoleAdmin), auditHandler.QueryAudit)
	}

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP"})
	})
}
