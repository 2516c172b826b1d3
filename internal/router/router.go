package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/nimbusedu/school-api/internal/handler"
	"github.com/nimbusedu/school-api/internal/middleware"
	"github.com/nimbusedu/school-api/internal/models"
	"github.com/nimbusedu/school-api/internal/repository"
	"github.com/nimbusedu/school-api/internal/service"
	"github.com/nimbusedu/school-api/pkg/config"
	"github.com/nimbusedu/school-api/pkg/logger"
	corsmiddleware "github.com/nimbusedu/school-api/pkg/middleware/cors"
	reqidmiddleware "github.com/nimbusedu/school-api/pkg/middleware/requestid"

	"go.uber.org/zap"
)

// Dependencies carries everything the router needs to mount the API.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Auth      *service.AuthService
	Schools   *service.SchoolService
	Classes   *service.ClassService
	Sessions  *service.SessionService
	Lifecycle *service.LifecycleService
	Students  *service.StudentService
	Metrics   *service.MetricsService
	UserRepo  *repository.UserRepository
}

// New builds the gin engine with all routes mounted.
func New(deps Dependencies) *gin.Engine {
	cfg := deps.Config

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(deps.Auth)
	schoolHandler := handler.NewSchoolHandler(deps.Schools)
	classHandler := handler.NewClassHandler(deps.Classes)
	sessionHandler := handler.NewSessionHandler(deps.Sessions)
	studentHandler := handler.NewStudentHandler(deps.Lifecycle, deps.Students, deps.Metrics)

	authn := middleware.JWT(deps.Auth)
	adminOnly := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)
	staffUp := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleStaff)
	schoolStaff := middleware.RequireSchoolRole(deps.UserRepo, "schoolId", models.RoleAdmin, models.RoleStaff)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/signup/admin", authHandler.SignupAdmin)
		auth.POST("/signup/staff", authHandler.SignupStaff)
		auth.POST("/signup/student", authHandler.SignupStudent)
		auth.POST("/signin", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authn, authHandler.Logout)
		auth.PUT("/password", authn, authHandler.ChangePassword)
	}

	schools := api.Group("/schools", authn)
	{
		schools.POST("", adminOnly, schoolHandler.Create)
		schools.GET("", schoolHandler.List)
		schools.GET("/:id", schoolHandler.Get)
		schools.PUT("/:id", adminOnly, schoolHandler.Update)
		schools.DELETE("/:id", adminOnly, schoolHandler.Delete)
	}

	classes := api.Group("/classes", authn)
	{
		classes.POST("", adminOnly, classHandler.Create)
		classes.GET("", classHandler.List)
		classes.GET("/:id", classHandler.Get)
		classes.PUT("/:id", adminOnly, classHandler.Update)
		classes.DELETE("/:id", adminOnly, classHandler.Delete)
	}

	sessions := api.Group("/sessions", authn)
	{
		sessions.POST("", adminOnly, sessionHandler.Create)
		sessions.GET("", sessionHandler.List)
		sessions.GET("/active", sessionHandler.GetActive)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.GET("/:id/terms", sessionHandler.ListTerms)
		sessions.GET("/terms/:termId", sessionHandler.GetTerm)
		sessions.PUT("/:id", adminOnly, sessionHandler.Update)
		sessions.DELETE("/:id", adminOnly, sessionHandler.Delete)
	}

	students := api.Group("/students", authn)
	{
		students.POST("/enroll", staffUp, studentHandler.Enroll)
		students.PUT("/promote", staffUp, studentHandler.Promote)
		students.PUT("/transfer", staffUp, studentHandler.Transfer)
		students.GET("/:id", studentHandler.Get)
		students.GET("/:id/promotions", studentHandler.ListPromotions)
		students.GET("/school/:schoolId", schoolStaff, studentHandler.ListBySchool)
		students.GET("/school/:schoolId/transfers", schoolStaff, studentHandler.ListTransfers)
		students.GET("/school/:schoolId/export", schoolStaff, studentHandler.ExportRoster)
	}

	return r
}
