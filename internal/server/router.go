package server

import (
	"github.com/gin-gonic/gin"

	httpH "etinuxe/internal/server/handlers"
	httpMW "etinuxe/internal/server/middleware"
	"etinuxe/pkg/logger"
)

type RouterConfig struct {
	UserHandler      *httpH.UserHandler
	InsuranceHandler *httpH.InsuranceHandler
	AdminHandler     *httpH.AdminHandler
	SupportHandler   *httpH.SupportHandler
	WebhookHandler   *httpH.WebhookHandler
	HealthHandler    *httpH.HealthHandler

	AllowedOrigins []string
	AdminToken     string
	Logger         *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Logger))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}

	// Payments
	if cfg.WebhookHandler != nil {
		r.POST("/webhook/stripe", cfg.WebhookHandler.Stripe)
	}

	auth := r.Group("/auth")
	{
		if cfg.UserHandler != nil {
			auth.POST("/login", cfg.UserHandler.Login)
			auth.POST("/forgot-password", cfg.UserHandler.ForgotPassword)
			auth.POST("/reset-password", cfg.UserHandler.ResetPassword)
		}
	}

	users := r.Group("/users")
	{
		if cfg.UserHandler != nil {
			users.POST("/signup", cfg.UserHandler.Signup)
			users.POST("/verify", cfg.UserHandler.Verify)
			users.POST("/login", cfg.UserHandler.Login)
			users.GET("/:id", cfg.UserHandler.Get)
			users.POST("/:id/otp/resend", cfg.UserHandler.ResendOTP)
			users.POST("/:id/health-profile", cfg.UserHandler.HealthProfile)
			users.POST("/:id/miniaturization", cfg.UserHandler.Miniaturization)
			users.POST("/:id/payment", cfg.UserHandler.Payment)
			users.POST("/:id/personality", cfg.UserHandler.Personality)
			users.POST("/:id/token", cfg.UserHandler.Token)
			users.POST("/:id/memories", cfg.UserHandler.Memories)
		}

		// Insurance
		if cfg.InsuranceHandler != nil {
			users.GET("/:id/insurance", cfg.InsuranceHandler.List)
			users.POST("/:id/insurance/preview", cfg.InsuranceHandler.Preview)
			users.POST("/:id/insurance", cfg.InsuranceHandler.Activate)
		}
	}

	admin := r.Group("/admin")
	admin.Use(httpMW.RequireAdmin(cfg.AdminToken))
	{
		if cfg.AdminHandler != nil {
			admin.GET("/settings", cfg.AdminHandler.GetSettings)
			admin.PATCH("/settings", cfg.AdminHandler.PatchSettings)
			admin.GET("/overview", cfg.AdminHandler.Overview)
			admin.GET("/insurance/policies", cfg.AdminHandler.Policies)
			admin.GET("/payments", cfg.AdminHandler.Payments)
			admin.GET("/requests", cfg.AdminHandler.Requests)
			admin.POST("/requests/:id/health-rating", cfg.AdminHandler.HealthRating)
			admin.GET("/users", cfg.AdminHandler.Users)
			admin.PATCH("/users/:id", cfg.AdminHandler.UpdateUser)
			admin.POST("/tokens/:id/status", cfg.AdminHandler.TokenStatus)
		}
	}

	// Support
	if cfg.SupportHandler != nil {
		support := r.Group("/support")
		support.GET("/users/:id/sessions", cfg.SupportHandler.UserSessions)
		support.POST("/users/:id/sessions", cfg.SupportHandler.Open)
		support.POST("/users/:id/sessions/:sid/messages", cfg.SupportHandler.UserMessage)
		support.POST("/users/:id/sessions/:sid/close", cfg.SupportHandler.Close)

		staff := support.Group("/admin")
		staff.Use(httpMW.RequireAdmin(cfg.AdminToken))
		staff.GET("/sessions", cfg.SupportHandler.AllSessions)
		staff.POST("/sessions/:sid/messages", cfg.SupportHandler.StaffMessage)
		staff.PATCH("/sessions/:sid", cfg.SupportHandler.Update)
	}

	return r
}
