package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/agrariahq/agraria-api/api/swagger"
	"github.com/agrariahq/agraria-api/internal/handler"
	"github.com/agrariahq/agraria-api/internal/middleware"
	"github.com/agrariahq/agraria-api/internal/models"
	"github.com/agrariahq/agraria-api/internal/repository"
	"github.com/agrariahq/agraria-api/internal/service"
	"github.com/agrariahq/agraria-api/pkg/cache"
	"github.com/agrariahq/agraria-api/pkg/config"
	"github.com/agrariahq/agraria-api/pkg/database"
	"github.com/agrariahq/agraria-api/pkg/export"
	"github.com/agrariahq/agraria-api/pkg/logger"
	corsmiddleware "github.com/agrariahq/agraria-api/pkg/middleware/cors"
	reqidmiddleware "github.com/agrariahq/agraria-api/pkg/middleware/requestid"
)

// @title Agraria API
// @version 1.0.0
// @description Multi-site agricultural research and finance administration
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsSvc := service.NewMetricsService(registry)

	validate := validator.New()

	// Repositories.
	siteRepo := repository.NewSiteRepository(db)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	programRepo := repository.NewProgramRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	fiscalYearRepo := repository.NewFiscalYearRepository(db)
	revenueRepo := repository.NewRevenueRepository(db)
	workflowRepo := repository.NewApprovalWorkflowRepository(db)
	instanceRepo := repository.NewApprovalInstanceRepository(db)

	// Approval engine and its collaborators. The approvable registry must
	// exist before the engine, and the handlers registered on it come from
	// services built on top of the engine, so registration happens last.
	resolver := service.NewEligibilityResolver(roleRepo, redisClient, cfg.Approvals.IdentifierCacheTTL, logr)
	approvableRegistry := service.NewApprovableRegistry()
	notifier := service.NewNotificationService(redisClient, cfg.Approvals, logr)
	notifier.Start(ctx)
	defer notifier.Stop()

	engine := service.NewApprovalEngine(workflowRepo, instanceRepo, resolver, approvableRegistry, notifier, metricsSvc, logr)

	// Services.
	pdfExporter := export.NewPDFExporter(cfg.Exports.PDFAuthor, cfg.Exports.PDFFooter)
	authSvc := service.NewAuthService(userRepo, roleRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "agraria-api",
	})
	siteSvc := service.NewSiteService(siteRepo, validate, logr)
	userSvc := service.NewUserService(userRepo, roleRepo, resolver, validate, logr)
	roleSvc := service.NewRoleService(roleRepo, validate, logr)
	programSvc := service.NewProgramService(programRepo, engine, pdfExporter, cfg.Exports.MaxRows, validate, logr)
	accountSvc := service.NewAccountService(accountRepo, engine, validate, logr)
	fiscalYearSvc := service.NewFiscalYearService(fiscalYearRepo, validate, logr)
	revenueSvc := service.NewRevenueService(revenueRepo, accountRepo, fiscalYearRepo, cfg.Exports.MaxRows, validate, logr)
	workflowSvc := service.NewWorkflowService(workflowRepo, instanceRepo, approvableRegistry, cfg.Exports.MaxRows, validate, logr)

	approvableRegistry.Register(models.ApprovableTypeProgram, programSvc.ApprovableHandler())
	approvableRegistry.Register(models.ApprovableTypeAccount, accountSvc.ApprovableHandler())

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	siteHandler := handler.NewSiteHandler(siteSvc)
	userHandler := handler.NewUserHandler(userSvc)
	roleHandler := handler.NewRoleHandler(roleSvc)
	programHandler := handler.NewProgramHandler(programSvc)
	accountHandler := handler.NewAccountHandler(accountSvc)
	fiscalYearHandler := handler.NewFiscalYearHandler(fiscalYearSvc)
	revenueHandler := handler.NewRevenueHandler(revenueSvc)
	workflowHandler := handler.NewWorkflowHandler(workflowSvc)
	approvalHandler := handler.NewApprovalHandler(engine)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.PUT("/password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))

	sites := secured.Group("/sites")
	{
		sites.GET("", siteHandler.List)
		sites.GET("/:id", siteHandler.Get)
		sites.POST("", middleware.RBAC(models.RoleSuperAdmin), siteHandler.Create)
		sites.PUT("/:id", middleware.RBAC(models.RoleSuperAdmin), siteHandler.Update)
		sites.PUT("/:id/active", middleware.RBAC(models.RoleSuperAdmin), siteHandler.SetActive)
	}

	users := secured.Group("/users")
	{
		admin := middleware.RBAC(models.RoleSuperAdmin, models.RoleSiteAdmin)
		users.GET("", admin, userHandler.List)
		users.GET("/:id", middleware.RBAC(models.RoleSuperAdmin, models.RoleSiteAdmin, "SELF"), userHandler.Get)
		users.POST("", admin, middleware.Audit(userRepo, models.AuditActionUserCreate, "user"), userHandler.Create)
		users.PUT("/:id", admin, middleware.Audit(userRepo, models.AuditActionUserUpdate, "user"), userHandler.Update)
		users.PUT("/:id/roles", middleware.RBAC(models.RoleSuperAdmin), userHandler.AssignRoles)
		users.DELETE("/:id", admin, middleware.Audit(userRepo, models.AuditActionUserDelete, "user"), userHandler.Delete)
	}

	roles := secured.Group("/roles", middleware.RBAC(models.RoleSuperAdmin))
	{
		roles.GET("", roleHandler.List)
		roles.POST("", roleHandler.Create)
		roles.PUT("/:id/permissions", roleHandler.SetPermissions)
	}

	programs := secured.Group("/programs")
	{
		programs.GET("", programHandler.List)
		programs.GET("/:id", programHandler.Get)
		programs.POST("", programHandler.Create)
		programs.PUT("/:id", programHandler.Update)
		programs.DELETE("/:id", middleware.RBAC(models.RoleSuperAdmin, models.RoleSiteAdmin), programHandler.Delete)
		if cfg.Exports.Enabled {
			programs.GET("/export/budget.pdf", programHandler.ExportBudgetPDF)
		}
	}

	accounts := secured.Group("/accounts")
	{
		accounts.GET("", accountHandler.List)
		accounts.GET("/:id", accountHandler.Get)
		accounts.POST("", middleware.RBAC(models.RoleSuperAdmin, models.RoleFinance), accountHandler.Create)
		accounts.PUT("/:id", middleware.RBAC(models.RoleSuperAdmin, models.RoleFinance), accountHandler.Update)
		accounts.DELETE("/:id", middleware.RBAC(models.RoleSuperAdmin), accountHandler.Delete)
	}

	fiscalYears := secured.Group("/fiscal-years")
	{
		finance := middleware.RBAC(models.RoleSuperAdmin, models.RoleFinance)
		fiscalYears.GET("", fiscalYearHandler.List)
		fiscalYears.GET("/:id", fiscalYearHandler.Get)
		fiscalYears.POST("", finance, fiscalYearHandler.Create)
		fiscalYears.PUT("/:id", finance, fiscalYearHandler.Update)
		fiscalYears.PUT("/:id/activate", finance, fiscalYearHandler.Activate)
		fiscalYears.PUT("/:id/close", finance, fiscalYearHandler.Close)
		fiscalYears.DELETE("/:id", middleware.RBAC(models.RoleSuperAdmin), fiscalYearHandler.Delete)
		fiscalYears.GET("/:id/revenue-total", revenueHandler.TotalForFiscalYear)
	}

	revenues := secured.Group("/revenues")
	{
		finance := middleware.RBAC(models.RoleSuperAdmin, models.RoleFinance)
		revenues.GET("", revenueHandler.List)
		revenues.GET("/:id", revenueHandler.Get)
		revenues.POST("", finance, revenueHandler.Create)
		revenues.PUT("/:id", finance, revenueHandler.Update)
		revenues.DELETE("/:id", finance, revenueHandler.Delete)
		if cfg.Exports.Enabled {
			revenues.GET("/export.csv", finance, revenueHandler.ExportCSV)
		}
	}

	workflows := secured.Group("/workflows", middleware.RBAC(models.RoleSuperAdmin, models.RoleSiteAdmin))
	{
		workflowAudit := middleware.Audit(userRepo, models.AuditActionWorkflowAdmin, "workflow")
		workflows.GET("", workflowHandler.List)
		workflows.GET("/:id", workflowHandler.Get)
		workflows.POST("", workflowAudit, workflowHandler.Create)
		workflows.PUT("/:id", workflowAudit, workflowHandler.Update)
		workflows.POST("/:id/duplicate", workflowAudit, workflowHandler.Duplicate)
		workflows.PUT("/:id/activate", workflowAudit, workflowHandler.Activate)
		workflows.PUT("/:id/deactivate", workflowAudit, workflowHandler.Deactivate)
		workflows.DELETE("/:id", workflowAudit, workflowHandler.Delete)
		if cfg.Exports.Enabled {
			workflows.GET("/export/actions.csv", workflowHandler.ExportActions)
		}
	}

	approvals := secured.Group("/approval-instances")
	{
		actionAudit := middleware.Audit(userRepo, models.AuditActionApprovalAction, "approval_instance")
		approvals.GET("", approvalHandler.List)
		approvals.GET("/pending", approvalHandler.PendingForMe)
		approvals.GET("/:id", approvalHandler.Get)
		approvals.POST("/:id/submit", actionAudit, approvalHandler.Submit)
		approvals.POST("/:id/actions", actionAudit, approvalHandler.Act)
		approvals.POST("/:id/resubmit", actionAudit, approvalHandler.Resubmit)
		approvals.POST("/:id/cancel", actionAudit, approvalHandler.Cancel)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
