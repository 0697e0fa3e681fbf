package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"clinical-forms-server/internal/audit"
	"clinical-forms-server/internal/config"
	"clinical-forms-server/internal/events"
	"clinical-forms-server/internal/forms"
	"clinical-forms-server/internal/lock"
	"clinical-forms-server/internal/logger"
	"clinical-forms-server/internal/middleware"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"
	"clinical-forms-server/internal/routes"
	"clinical-forms-server/internal/signatures"
	"clinical-forms-server/internal/versions"
)

func main() {
	// Load environment variables; a missing .env leaves the process environment as is
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	// Initialize configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format, "clinical-forms-server")
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	repo, err := openRepository(cfg, zl)
	if err != nil {
		zl.Fatal("Error opening repository", zap.Error(err))
	}

	policy := permission.DefaultPolicy()
	if cfg.PolicyFile != "" {
		if policy, err = permission.LoadPolicy(cfg.PolicyFile); err != nil {
			zl.Fatal("Error loading permission policy", zap.String("path", cfg.PolicyFile), zap.Error(err))
		}
	}
	engine, err := permission.NewEngine(policy)
	if err != nil {
		zl.Fatal("Invalid permission policy", zap.Error(err))
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		publisher = events.NewRedisPublisher(client, cfg.Redis.Channel)
		zl.Info("Publishing form events", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	}

	ledger := audit.NewLedger(repo, engine, zl.Named("audit"),
		audit.WithPageSizes(cfg.Audit.DefaultPageSize, cfg.Audit.MaxPageSize))
	formSvc := forms.NewService(repo, engine, ledger, publisher, lock.NewKeyed(), zl.Named("forms"))
	svc := &routes.Services{
		Repo:       repo,
		Engine:     engine,
		Ledger:     ledger,
		Forms:      formSvc,
		Versions:   versions.NewStore(repo, engine, ledger, formSvc, zl.Named("versions")),
		Signatures: signatures.NewWorkflow(repo, engine, ledger, formSvc, nil, zl.Named("signatures")),
		Logger:     zl,
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(zl))

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Disposition"}
	router.Use(cors.New(corsConfig))

	routes.SetupRoutes(router, svc, cfg)

	// Start server
	serverAddr := fmt.Sprintf(":%s", cfg.Port)
	zl.Info("Server running", zap.String("port", cfg.Port), zap.String("db_driver", cfg.Database.Driver))
	if err := router.Run(serverAddr); err != nil {
		zl.Fatal("Failed to start server", zap.Error(err))
	}
}

func openRepository(cfg *config.Config, zl *zap.Logger) (repository.Repository, error) {
	if cfg.Database.Driver == "memory" {
		zl.Warn("Using in-memory repository; data is lost on restart")
		return repository.NewMemoryRepository(), nil
	}

	db, err := models.InitDB(models.DatabaseConfig{DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return repository.NewGormRepository(db), nil
}
