package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicelink-backend/internal/database"
	callsHandler "voicelink-backend/internal/handler/http/calls"
	presenceHandler "voicelink-backend/internal/handler/http/presence"
	pushHandler "voicelink-backend/internal/handler/http/push"
	wsHandler "voicelink-backend/internal/handler/ws"
	"voicelink-backend/internal/middleware"
	"voicelink-backend/internal/notify"
	"voicelink-backend/internal/registry"
	"voicelink-backend/internal/repository/cassandra"
	"voicelink-backend/internal/repository/cockroach"
	redisRepo "voicelink-backend/internal/repository/redis"
	"voicelink-backend/internal/room"
	callService "voicelink-backend/internal/service/call"
	groupCallService "voicelink-backend/internal/service/groupcall"
	signalingService "voicelink-backend/internal/service/signaling"
	"voicelink-backend/pkg/constants"
	"voicelink-backend/pkg/env"
	"voicelink-backend/pkg/jwt"
	"voicelink-backend/pkg/logger"
	"voicelink-backend/pkg/metrics"
	"voicelink-backend/pkg/push"
)

func main() {
	// 1. Initialize structured logging
	if err := logger.Init(&logger.Config{
		Level:  env.GetString("LOG_LEVEL", "info"),
		Format: env.GetString("LOG_FORMAT", "json"),
		Output: "stdout",
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 2. Setup JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, 15*time.Minute, 30*24*time.Hour)

	// 3. Connect to Cassandra with authentication
	cassandraConfig := &database.CassandraConfig{
		Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
		Keyspace: env.GetString("CASSANDRA_KEYSPACE", "voicelink_ks"),
		Username: env.GetStringFromFile("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  10 * time.Second,
	}
	cassandraDB, err := database.NewCassandraDB(cassandraConfig)
	if err != nil {
		log.Fatalf("Failed to connect to Cassandra: %v", err)
	}
	defer cassandraDB.Close()

	log.Println("✅ Connected to Cassandra")

	// 4. Connect to Redis with degraded mode support
	redisConfig := &database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}

	redisDB, err := database.NewRedisDB(redisConfig)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisDB.Close()

	log.Println("✅ Connected to Redis")

	// Start background Redis health check
	go redisDB.StartHealthCheck(context.Background(), 10*time.Second)
	log.Println("✅ Redis health check started (10s interval)")

	// 5. Connect to CockroachDB, retrying while the cluster comes up
	cockroachDB, err := connectCockroach(context.Background())
	if err != nil {
		log.Fatalf("Failed to connect to CockroachDB: %v", err)
	}
	defer cockroachDB.Close()

	log.Println("✅ Connected to CockroachDB")

	// 6. Initialize Repositories
	callRepo := cockroach.NewCallRepository(cockroachDB.Pool)
	groupCallRepo := cockroach.NewGroupCallRepository(cockroachDB.Pool)
	groupRepo := cockroach.NewGroupRepository(cockroachDB.Pool)
	historyRepo := cassandra.NewCallHistoryRepository(cassandraDB.Session)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)

	// Identity lookups sit on every call setup path; cache them briefly.
	identities := cockroach.NewCachedIdentityResolver(groupRepo, 5*time.Minute, 10000)
	stopIdentityCleanup := identities.StartCleanup(time.Minute)
	defer stopIdentityCleanup()

	// 7. Initialize Metrics
	appMetrics := metrics.NewMetrics("call-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 8. Connection registry, room tracker and event fanout
	connRegistry := registry.New()
	rooms := room.NewTracker()
	fanout := notify.New(connRegistry, rooms, groupRepo, appMetrics)

	// 9. Push notifications (mock provider unless PUSH_PROVIDER=fcm)
	pushProvider, err := push.NewProvider()
	if err != nil {
		log.Fatalf("Failed to initialize push provider: %v", err)
	}
	pushSvc := push.NewService(pushProvider, pushTokenRepo, appMetrics)

	// 10. Initialize Services
	callSvc := callService.NewService(callRepo, historyRepo, fanout, identities, pushSvc, appMetrics)
	groupCallSvc := groupCallService.NewService(groupCallRepo, groupRepo, historyRepo, fanout, pushSvc, appMetrics)

	instanceID := uuid.New().String()
	signalSvc := signalingService.NewService(rooms, fanout, redisDB, instanceID, appMetrics)
	defer signalSvc.Close()

	// 11. WebSocket gateway and HTTP handlers
	gateway := wsHandler.NewGateway(connRegistry, fanout, callSvc, groupCallSvc, signalSvc, presenceRepo, jwtManager, appMetrics)
	callsHdlr := callsHandler.NewHandler(callSvc, historyRepo)
	presenceHdlr := presenceHandler.NewHandler(presenceRepo)
	pushHdlr := pushHandler.NewHandler(pushSvc)

	// 12. Setup Gin Router
	router := gin.New() // Don't use Default() to have full control

	// Configure trusted proxies for production
	trustedProxies := []string{}
	if env := os.Getenv("ENV"); env == "production" {
		trustedProxies = []string{
			"https://api.voicelink.app",
			"https://*.voicelink.app",
		}
	} else {
		trustedProxies = []string{
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:8080",
		}
	}
	router.SetTrustedProxies(trustedProxies)

	// Apply global middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(prometheusMiddleware.Handler())

	// Health check
	router.GET("/health", middleware.HealthCheck("call-service"))

	// Metrics endpoint (for Prometheus scraping)
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// WebSocket endpoint authenticates inside the handshake; a browser
	// cannot attach an Authorization header to the upgrade request.
	router.GET("/ws", gateway.ServeWS)

	// Revocation checker and per-user rate limit
	revocationChecker := middleware.NewRedisRevocationChecker(redisDB)
	rateLimiter := middleware.NewRateLimiter(redisDB,
		env.GetInt("RATE_LIMIT_REQUESTS", 100), time.Minute)

	// REST routes (all require authentication)
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	v1.Use(rateLimiter.Middleware())
	{
		// Call read surface
		v1.GET("/calls/history", callsHdlr.GetHistory)
		v1.GET("/calls/:id", callsHdlr.GetCall)
		v1.GET("/calls", callsHdlr.ListCalls)

		// Presence
		v1.GET("/presence/online", presenceHdlr.GetOnlineUsers)
		v1.GET("/presence/:id", presenceHdlr.GetUserPresence)

		// Push token lifecycle
		v1.POST("/push/tokens", pushHdlr.RegisterToken)
		v1.DELETE("/push/tokens", pushHdlr.UnregisterAllTokens)
	}

	// 13. Start server
	port := env.GetString("PORT", "8083")
	addr := fmt.Sprintf(":%s", port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Call Service starting on port %s\n", port)
		log.Println("📡 WebSocket endpoint: /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 14. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// connectCockroach dials the SQL cluster with exponential backoff. Container
// orchestration frequently starts the service before the database is ready.
func connectCockroach(ctx context.Context) (*database.DB, error) {
	connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		env.GetString("COCKROACH_HOST", "localhost"),
		env.GetInt("COCKROACH_PORT", 26257),
		env.GetString("COCKROACH_USER", "root"),
		env.GetStringFromFile("COCKROACH_PASSWORD", ""),
		env.GetString("COCKROACH_DATABASE", "voicelink_db"),
		env.GetString("COCKROACH_SSLMODE", "disable"),
	)

	var db *database.DB
	var err error
	backoff := time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		db, err = database.NewDB(ctx, connString, nil)
		if err == nil {
			return db, nil
		}
		log.Printf("CockroachDB connection attempt %d failed: %v (retrying in %s)", attempt, err, backoff)
		time.Sleep(backoff)
		backoff *= 2
	}
	return nil, err
}
