package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mohsinalimat/watchparty/internal/auth"
	"github.com/mohsinalimat/watchparty/internal/billing"
	"github.com/mohsinalimat/watchparty/internal/captcha"
	"github.com/mohsinalimat/watchparty/internal/fleet"
	httpHandler "github.com/mohsinalimat/watchparty/internal/handler/http"
	wsHandler "github.com/mohsinalimat/watchparty/internal/handler/websocket"
	"github.com/mohsinalimat/watchparty/internal/hub"
	gormpersistence "github.com/mohsinalimat/watchparty/internal/infra/persistence/gorm"
	"github.com/mohsinalimat/watchparty/internal/infra/setup"
	redisstate "github.com/mohsinalimat/watchparty/internal/infra/state/redis"
	"github.com/mohsinalimat/watchparty/internal/middleware"
	"github.com/mohsinalimat/watchparty/internal/repository"
	"github.com/mohsinalimat/watchparty/internal/room"
	"github.com/mohsinalimat/watchparty/internal/service"
	"github.com/mohsinalimat/watchparty/internal/tasks"
	"github.com/mohsinalimat/watchparty/internal/worker"
)

// Config is loaded from the environment, after an optional .env file.
type Config struct {
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	RedisAddr     string `env:"REDIS_ADDR,required"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix     string `env:"REDIS_KEY_PREFIX"`

	// The relational store is disabled when DBHost is empty.
	DBUser         string `env:"DB_USER"`
	DBPassword     string `env:"DB_PASSWORD"`
	DBHost         string `env:"DB_HOST"`
	DBPort         string `env:"DB_PORT" envDefault:"3306"`
	DBName         string `env:"DB_NAME" envDefault:"watchparty"`
	EnableDBSaving bool   `env:"ENABLE_DB_SAVING" envDefault:"false"`

	AuthJWKSURL string `env:"AUTH_JWKS_URL"`
	AuthIssuer  string `env:"AUTH_ISSUER"`
	AuthSecret  string `env:"AUTH_SECRET"`

	RecaptchaSecret string `env:"RECAPTCHA_SECRET_KEY"`

	VMManagerID       string        `env:"VM_MANAGER_ID" envDefault:"DO"`
	VMProviders       []string      `env:"VM_PROVIDERS" envSeparator:"," envDefault:"DO"`
	VMAssignTimeout   time.Duration `env:"VM_ASSIGN_TIMEOUT" envDefault:"75s"`
	SessionLimit      time.Duration `env:"VBROWSER_SESSION_LIMIT" envDefault:"3h"`
	SessionLimitLarge time.Duration `env:"VBROWSER_SESSION_LIMIT_LARGE" envDefault:"12h"`

	RoomCapacity    int `env:"ROOM_CAPACITY" envDefault:"0"`
	RoomCapacitySub int `env:"ROOM_CAPACITY_SUB" envDefault:"0"`

	ShardID       int    `env:"SHARD_ID" envDefault:"0"`
	ShardCount    int    `env:"SHARD_COUNT" envDefault:"1"`
	FlushSchedule string `env:"FLUSH_SCHEDULE" envDefault:"@every 1m"`

	RateLimitMax      int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1s"`
	CORSAllowedOrigin string        `env:"CORS_ALLOWED_ORIGIN" envDefault:"*"`
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.AuthJWKSURL == "" && cfg.AuthSecret == "" {
		return nil, fmt.Errorf("one of AUTH_JWKS_URL or AUTH_SECRET must be set")
	}
	if cfg.ShardCount < 1 || cfg.ShardID < 0 || cfg.ShardID >= cfg.ShardCount {
		return nil, fmt.Errorf("SHARD_ID %d is out of range for SHARD_COUNT %d", cfg.ShardID, cfg.ShardCount)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// App holds every long-lived component of a shard process.
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Scheduler   *asynq.Scheduler
	Hub         *hub.Hub
	HttpServer  *http.Server
	verifier    *auth.JWTVerifier
}

// NewApp builds the application from the environment.
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	log.Info("Initializing infrastructure...")
	var db *gorm.DB
	if cfg.DBHost != "" {
		db, err = setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		if err := setup.MigrateDB(db); err != nil {
			return nil, fmt.Errorf("failed to migrate DB: %w", err)
		}
	} else {
		log.Warn("DB_HOST not set, room ownership and subscriptions are disabled")
	}

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Infrastructure initialized successfully")

	log.Info("Initializing collaborators...")
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)

	var (
		roomRepo repository.RoomSettingsRepository
		checker  billing.Checker = billing.Disabled{}
	)
	if db != nil {
		roomRepo = gormpersistence.NewGormRoomSettingsRepository(db)
		checker = billing.NewSubscriberChecker(gormpersistence.NewGormSubscriberRepository(db))
	}
	settings := service.NewSettingsService(roomRepo, cfg.EnableDBSaving)

	verifier, err := newVerifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init auth verifier: %w", err)
	}

	var captchaVerifier captcha.Verifier
	if cfg.RecaptchaSecret != "" {
		captchaVerifier = captcha.NewRecaptcha(cfg.RecaptchaSecret, "")
	}

	registry := fleet.NewRegistry(redisClient, cfg.VMProviders, cfg.VMAssignTimeout)
	log.Info("Collaborators initialized")

	hubInstance := hub.New(room.Deps{
		Store:    stateRepo,
		Settings: settings,
		Auth:     verifier,
		Billing:  checker,
		Captcha:  captchaVerifier,
		Fleet:    registry,
		OpenConn: func(ctx context.Context) (fleet.Conn, error) {
			return redisClient.Conn(ctx), nil
		},
		Terminator: tasks.NewResetEnqueuer(asynqClient),
		Config: room.Config{
			VMManagerID:       cfg.VMManagerID,
			RoomCapacity:      cfg.RoomCapacity,
			RoomCapacitySub:   cfg.RoomCapacitySub,
			SessionLimit:      cfg.SessionLimit,
			SessionLimitLarge: cfg.SessionLimitLarge,
			DevMode:           cfg.AppEnv != "production",
		},
	}, hub.Options{ShardID: cfg.ShardID, ShardCount: cfg.ShardCount})
	log.WithFields(logrus.Fields{"shard_id": cfg.ShardID, "shard_count": cfg.ShardCount}).Info("Hub initialized")

	workerServer := worker.NewWorkerServer(redisClientOpt, cfg.ShardID, registry, hubInstance, log)
	scheduler := asynq.NewScheduler(redisClientOpt, &asynq.SchedulerOpts{Location: time.UTC})

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))

	roomHandler := httpHandler.NewRoomHandler(stateRepo, hubInstance, cfg.ShardID)
	ws := wsHandler.NewWebSocketHandler(hubInstance, cfg.CORSAllowedOrigin)
	limiter := middleware.RateLimit(stateRepo, cfg.RateLimitMax, cfg.RateLimitWindow)

	api := router.Group("/api").Use(limiter)
	{
		api.GET("/subtitle/:hash", roomHandler.GetSubtitle)
		api.GET("/stats", roomHandler.GetStats)
	}
	router.Group("/ws").Use(limiter).GET("/*roomId", ws.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Scheduler:   scheduler,
		Hub:         hubInstance,
		HttpServer:  httpServer,
		verifier:    verifier,
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	// Packages log through the standard logger.
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	log.Infof("Logger initialized (Level: %s, Format: %T)", level.String(), log.Formatter)
	return log
}

func newVerifier(cfg *Config) (*auth.JWTVerifier, error) {
	if cfg.AuthJWKSURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return auth.NewJWKSVerifier(ctx, cfg.AuthJWKSURL, cfg.AuthIssuer)
	}
	return auth.NewHMACVerifier(cfg.AuthSecret, cfg.AuthIssuer)
}

// Start launches the worker, the scheduler and the HTTP server.
func (a *App) Start() {
	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) registerPeriodicTasks() {
	schedule := a.Config.FlushSchedule
	entryID, err := a.Scheduler.Register(schedule, tasks.NewRoomFlushTask(), asynq.Queue(tasks.ShardQueue(a.Config.ShardID)))
	if err != nil {
		a.Log.Errorf("Could not register periodic room flush task: %v", err)
		return
	}
	a.Log.Infof("Periodic room flush registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	// Start does not block and leaves signal handling to main.
	if err := a.Scheduler.Start(); err != nil {
		a.Log.Errorf("Asynq scheduler failed to start: %v", err)
	}
}

// Shutdown stops accepting traffic, persists every room and closes the connections.
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a.Log.Info("Shutting down HTTP server...")
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.Hub != nil {
		if err := a.Hub.Shutdown(ctx); err != nil {
			a.Log.Errorf("Error stopping rooms: %v", err)
		} else {
			a.Log.Info("All rooms saved and stopped.")
		}
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.verifier != nil {
		a.verifier.Close()
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// CORSMiddleware answers preflight requests and sets the allowed origin.
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Debug("Request handled")
		}
	}
}
