package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schoolmed_backend/internal/config"
	"schoolmed_backend/internal/controller"
	"schoolmed_backend/internal/repository"
	"schoolmed_backend/internal/scheduler"
	"schoolmed_backend/internal/service"
	"schoolmed_backend/pkg/cache"
	"schoolmed_backend/pkg/database"
	"schoolmed_backend/pkg/logger"
	"schoolmed_backend/pkg/monitoring"
	"schoolmed_backend/pkg/security"
	"schoolmed_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config    *config.Config
	Router    *gin.Engine
	DB        *gorm.DB
	Redis     *redis.Client
	scheduler *scheduler.Scheduler
	sched     *config.SchedulerHolder
}

type repositories struct {
	user         *repository.UserRepository
	order        *repository.MedicationOrderRepository
	dose         *repository.DoseInstanceRepository
	record       *repository.AdministrationRecordRepository
	notification *repository.NotificationRepository
	incident     *repository.IncidentRepository
}

type services struct {
	auth         *service.AuthService
	storage      service.StorageProvider
	schedule     *service.ScheduleService
	admin        *service.AdministrationService
	medication   *service.MedicationService
	reminder     *service.ReminderService
	escalation   *service.EscalationService
	retention    *service.RetentionService
	incident     *service.IncidentService
	notification *service.NotificationService
}

type controllers struct {
	auth         *controller.AuthController
	medication   *controller.MedicationController
	dose         *controller.DoseController
	incident     *controller.IncidentController
	notification *controller.NotificationController
	student      *controller.StudentController
	health       *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:         repository.NewUserRepository(db),
		order:        repository.NewMedicationOrderRepository(db),
		dose:         repository.NewDoseInstanceRepository(db),
		record:       repository.NewAdministrationRecordRepository(db),
		notification: repository.NewNotificationRepository(db),
		incident:     repository.NewIncidentRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}
	c := cache.New(rdb)
	sched := a.sched
	tx := service.NewGormAtomic(a.DB)

	storage, err := service.NewStorageProvider(&cfg.Storage)
	if err != nil {
		logger.Log.Fatal("Failed to initialize storage provider", zap.Error(err))
	}
	s.storage = storage

	s.auth = service.NewAuthService(repos.user, cfg)
	s.schedule = service.NewScheduleService(repos.order, repos.dose, c, sched)
	s.admin = service.NewAdministrationService(repos.order, repos.dose, repos.record, repos.notification, repos.user, tx, c, sched)
	s.medication = service.NewMedicationService(repos.order, repos.dose, repos.user, repos.notification, s.schedule, c)
	s.reminder = service.NewReminderService(repos.order, repos.dose, repos.notification, repos.user, s.admin, tx, sched)
	s.escalation = service.NewEscalationService(repos.incident, repos.notification, repos.user, sched)
	s.retention = service.NewRetentionService(repos.order, repos.dose, repos.record, repos.notification, sched)
	s.incident = service.NewIncidentService(repos.incident, repos.user, repos.notification, c)
	s.notification = service.NewNotificationService(repos.notification)
	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, repos *repositories) *controllers {
	return &controllers{
		auth:         controller.NewAuthController(s.auth),
		medication:   controller.NewMedicationController(s.medication, s.storage),
		dose:         controller.NewDoseController(s.admin),
		incident:     controller.NewIncidentController(s.incident),
		notification: controller.NewNotificationController(s.notification),
		student:      controller.NewStudentController(repos.user),
		health:       controller.NewHealthController(db),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(func(c *gin.Context) {
		c.Set("config", cfg)
		c.Next()
	})
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 1000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		sched:  config.NewSchedulerHolder(cfg.Scheduler),
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	controllers := app.initControllers(services, db, repos)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("schoolmed-backend", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers)

	if cfg.Storage.Type == "local" || cfg.Storage.Type == "" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.scheduler = scheduler.New(services.schedule, services.medication,
		services.reminder, services.escalation, services.retention, app.sched)
	app.scheduler.Start()

	return app
}

// ReloadScheduler 热更新排程阈值。新配置作为完整快照原子发布，
// 各轮询循环在下个 tick 读到新值；轮询周期启动时已固定，不变。
func (a *App) ReloadScheduler(updated *config.Config) {
	a.sched.Store(updated.Scheduler)
	logger.Log.Info("scheduler thresholds reloaded",
		zap.Int("overdueGraceMinutes", updated.Scheduler.OverdueGraceMinutes),
		zap.Int("escalationAgeSeconds", updated.Scheduler.EscalationAgeSeconds))
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 先停后台轮询，保证没有半截迭代，再关 HTTP 服务
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Log.Sync()
	log.Println("Server exiting")
}
