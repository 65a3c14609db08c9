package app

import (
	"schoolmed_backend/internal/middleware"
	"schoolmed_backend/internal/model"
	"schoolmed_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由（无需登录）
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	// 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware())
	{
		authGroup.GET("/profile", c.auth.GetProfile)

		// 学生档案（家长）
		students := authGroup.Group("/students")
		students.Use(middleware.RoleMiddleware(model.Parent))
		{
			students.POST("", c.student.Create)
			students.GET("", c.student.List)
		}

		// 用药申请单
		medications := authGroup.Group("/medications")
		{
			medications.POST("", middleware.RoleMiddleware(model.Parent), c.medication.Create)
			medications.GET("", middleware.RoleMiddleware(model.Parent), c.medication.List)
			medications.POST("/attachments", middleware.RoleMiddleware(model.Parent), c.medication.UploadAttachment)
			medications.GET("/pending", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.medication.ListPending)
			medications.GET("/:id", c.medication.Get)
			medications.POST("/:id/approve", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.medication.Approve)
			medications.POST("/:id/reject", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.medication.Reject)
			medications.POST("/:id/discontinue", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.medication.Discontinue)
			medications.POST("/:id/generate", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.medication.GenerateSchedule)
		}

		// 剂量实例
		doses := authGroup.Group("/doses")
		{
			doses.GET("/today", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.dose.ListToday)
			doses.POST("/administer", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.dose.Administer)
			doses.POST("/administer/bulk", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.dose.BulkAdminister)
			doses.GET("/:id", c.dose.Get)
			doses.POST("/:id/complete", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.dose.QuickComplete)
			doses.POST("/:id/absent", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.dose.MarkAbsent)
			doses.POST("/:id/missed", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.dose.MarkMissed)
		}

		// 健康事件
		incidents := authGroup.Group("/incidents")
		{
			incidents.POST("", c.incident.Report)
			incidents.GET("", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.incident.List)
			incidents.GET("/:id", c.incident.Get)
			incidents.POST("/:id/assign", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.incident.Assign)
			incidents.POST("/:id/complete", middleware.RoleMiddleware(model.SchoolNurse, model.Manager), c.incident.Complete)
		}

		// 通知
		notifications := authGroup.Group("/notifications")
		{
			notifications.GET("", c.notification.List)
			notifications.GET("/unread", c.notification.UnreadCount)
			notifications.POST("/:id/read", c.notification.MarkRead)
			notifications.POST("/:id/confirm", c.notification.Confirm)
		}
	}
}
