package router

import (
	"time"
	"yardstick/internal/handlers"
	"yardstick/internal/middleware"
	"yardstick/internal/services"
	"yardstick/pkg/config"
	"yardstick/pkg/jwt"
	"yardstick/pkg/mailer"
	"yardstick/pkg/queue"
	"yardstick/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Dependencies 路由依赖的服务集合
type Dependencies struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client     // 未启用Redis时为空
	MailQueue *queue.RedisQueue // 未启用Redis时为空
	JWT       *jwt.JWTManager

	Verifier services.IdentityVerifier
	Signer   services.TokenSigner
	Mail     *services.MailDispatcher

	Auth        *services.AuthService
	Notes       *services.NoteService
	Users       *services.UserService
	Tenants     *services.TenantService
	Invitations *services.InvitationService
	Upgrades    *services.UpgradeService
}

// NewDependencies 根据配置组装所有服务
func NewDependencies(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, sender mailer.Sender) *Dependencies {
	tokenDuration, err := config.ParseDuration(cfg.JWT.TokenDuration)
	if err != nil || tokenDuration <= 0 {
		tokenDuration = 7 * 24 * time.Hour
	}
	manager := jwt.NewJWTManager(cfg.JWT.SecretKey, tokenDuration)

	var mailQueue *queue.RedisQueue
	if redisClient != nil {
		mailQueue = queue.NewRedisQueue(redisClient, cfg.Redis.Prefix)
	}

	signer := services.NewTokenVerifier(manager)
	verifier := services.NewIdentityVerifier(cfg.Policy.PrincipalSource, manager, db)
	quota := services.NewQuotaPolicy(cfg.Policy.FreeMaxNotes)
	policy := services.NewAuthorizationPolicy(cfg.Policy.AdminsCanCreateNotes)
	locker := services.NewTenantLocker(redisClient, cfg.Redis.Prefix)
	mail := services.NewMailDispatcher(sender, mailQueue, cfg.Mail.MaxAttempts)

	return &Dependencies{
		Config:      cfg,
		DB:          db,
		Redis:       redisClient,
		MailQueue:   mailQueue,
		JWT:         manager,
		Verifier:    verifier,
		Signer:      signer,
		Mail:        mail,
		Auth:        services.NewAuthService(db, signer),
		Notes:       services.NewNoteService(db, quota, policy, locker),
		Users:       services.NewUserService(db, policy, signer),
		Tenants:     services.NewTenantService(db, quota, policy, locker, signer),
		Invitations: services.NewInvitationService(db, policy, signer, mail, cfg.Invite),
		Upgrades:    services.NewUpgradeService(db, policy, quota, mail),
	}
}

// SetupRouter 设置路由
func SetupRouter(deps *Dependencies) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(middleware.RequestID())
	router.Use(gin.Logger())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Metrics())
	router.Use(middleware.SetupCORS(deps.Config.CORS))

	if deps.Config.Metrics.Enabled {
		router.GET(deps.Config.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	registerRoutes(router, deps)

	router.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "接口不存在")
	})
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine, deps *Dependencies) {
	cookieName := deps.Config.JWT.CookieName
	tokenDuration := deps.JWT.GetTokenDuration()
	auth := middleware.NewAuthMiddleware(deps.Verifier, cookieName)

	systemHandler := handlers.NewSystemHandler(deps.DB, deps.Redis, deps.MailQueue)
	authHandler := handlers.NewAuthHandler(deps.Auth, cookieName, tokenDuration)
	noteHandler := handlers.NewNoteHandler(deps.Notes)
	userHandler := handlers.NewUserHandler(deps.Users, deps.Notes)
	tenantHandler := handlers.NewTenantHandler(deps.Tenants)
	invitationHandler := handlers.NewInvitationHandler(deps.Invitations, cookieName, tokenDuration)
	upgradeHandler := handlers.NewUpgradeHandler(deps.Upgrades)

	// API路由组
	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", systemHandler.Health)

		// 认证
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/logout", authHandler.Logout)
			authGroup.GET("/me", auth.RequireLogin(), authHandler.Me)
		}

		// 公开的邀请接口
		api.POST("/invites/validate", invitationHandler.Validate)
		api.POST("/signup", invitationHandler.Signup)

		// 笔记
		notes := api.Group("/notes", auth.RequireLogin())
		{
			notes.GET("", noteHandler.List)
			notes.POST("", noteHandler.Create)
			notes.GET("/:id", noteHandler.Get)
			notes.PUT("/:id", noteHandler.Update)
			notes.DELETE("/:id", noteHandler.Delete)
		}

		// 当前用户
		api.GET("/users/:id/notes-count", auth.RequireLogin(), userHandler.NotesCount)

		// 升级申请
		upgrades := api.Group("/upgrade-requests", auth.RequireLogin())
		{
			upgrades.POST("", upgradeHandler.Request)
			upgrades.PATCH("/:id", auth.RequireAdmin(), upgradeHandler.Review)
		}

		// 租户管理（管理员，且只能操作自己的租户）
		tenants := api.Group("/tenants/:slug", auth.RequireLogin(), auth.RequireAdmin(), auth.RequireTenantSlug())
		{
			tenants.PATCH("/plan", tenantHandler.ChangePlan)

			tenants.GET("/users", userHandler.List)
			tenants.POST("/users", userHandler.Create)
			tenants.PATCH("/users/:userId/role", userHandler.ChangeRole)
			tenants.PATCH("/users/:userId/plan", userHandler.ChangePlan)
			tenants.DELETE("/users/:userId", userHandler.Delete)

			tenants.GET("/upgrade-requests", upgradeHandler.ListPending)

			tenants.POST("/invites", invitationHandler.Issue)
			tenants.GET("/invites", invitationHandler.List)
			tenants.DELETE("/invites/:inviteId", invitationHandler.Revoke)
		}
	}
}
