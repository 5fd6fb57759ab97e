package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jotion/jotion/backend/go-services/handlers"
	"github.com/jotion/jotion/backend/go-services/internal/config"
	"github.com/jotion/jotion/backend/go-services/internal/database"
	"github.com/jotion/jotion/backend/go-services/internal/document/handler"
	"github.com/jotion/jotion/backend/go-services/internal/document/repository"
	"github.com/jotion/jotion/backend/go-services/internal/document/service"
	"github.com/jotion/jotion/backend/go-services/internal/events"
	"github.com/jotion/jotion/backend/go-services/internal/oidc"
	"github.com/jotion/jotion/backend/go-services/internal/sessions"
	"github.com/jotion/jotion/backend/go-services/internal/storage"
	"github.com/jotion/jotion/backend/go-services/internal/tokens"
	"github.com/jotion/jotion/backend/go-services/internal/users"
	"github.com/jotion/jotion/backend/go-services/pkg/logger"
	"github.com/jotion/jotion/backend/go-services/pkg/metrics"
	"github.com/jotion/jotion/backend/go-services/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

const connectAttempts = 5

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: keycloak=%v mongo=%v redis=%v minio=%v cascade=%s",
		cfg.Keycloak.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Storage.Endpoint != "", cfg.Cascade.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := gin.New()
	// Permissive CORS for the SPA; the gateway in front sets the real policy.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})
	r.Use(gin.Logger(), gin.Recovery())

	// Redis backs the blacklist, sessions, rate limiter, cascade jobs and events.
	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		c := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := c.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
			_ = c.Close()
		} else {
			rdb = c
			defer rdb.Close()
			sessions.SetBlacklistClient(rdb)
			logger.Infof("connected to Redis: %s", addr)
		}
	}

	var mdb *mongo.Database
	if cfg.MongoDB.URI != "" {
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, connectAttempts)
		if err != nil {
			logger.Warnf("could not connect to MongoDB, using in-memory stores: %v", err)
		} else {
			defer func() { _ = client.Disconnect(context.Background()) }()
			mdb = client.Database(cfg.MongoDB.Database)
		}
	}

	// Tokens issued by /auth/login are checked first; Keycloak tokens are
	// accepted directly so the SPA can skip the exchange.
	var chain oidc.Chain
	tm, err := tokens.NewManager(cfg.JWT)
	if err != nil {
		logger.Warnf("access token issuing disabled: %v", err)
	} else {
		chain = append(chain, tm)
	}
	var idVerifier middleware.Verifier
	if cfg.Keycloak.URL != "" && cfg.Keycloak.ClientID != "" {
		ver, err := oidc.NewVerifierWithRetry(ctx, cfg.Keycloak.Issuer(), cfg.Keycloak.ClientID, connectAttempts)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			idVerifier = ver
			chain = append(chain, ver)
		}
	}
	if cfg.Auth.AllowInsecureToken {
		logger.Warn("enabling insecure token verifier (integration mode)")
		ins := oidc.NewInsecureVerifier()
		chain = append(chain, ins)
		if idVerifier == nil {
			idVerifier = ins
		}
	}
	if len(chain) == 0 {
		logger.Warn("no token verifier configured; every authenticated route will answer 401")
	}

	userSvc, sessionsSvc := identityStores(ctx, mdb, rdb)
	svc, broker, files := documentStack(ctx, cfg, mdb, rdb)

	var limit gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			limit = middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win)
		} else {
			limit = middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		}
	}

	auth := middleware.AuthMiddleware(chain)
	// Shutdown does not cancel in-flight requests; closing this ends the
	// long-lived event streams so it can finish.
	streamsDone := make(chan struct{})
	opts := handler.Options{
		Auth:          auth,
		OptionalAuth:  middleware.OptionalAuth(chain),
		Limit:         limit,
		Events:        broker,
		MaxUploadSize: cfg.Storage.MaxUploadSize,
		Done:          streamsDone,
	}
	if files != nil {
		opts.Files = files
	}
	handler.RegisterDocumentRoutes(r, svc, opts)

	if tm != nil && idVerifier != nil {
		ah := handlers.NewAuthHandler(oidc.NewKeycloakClient(cfg.Keycloak), idVerifier, userSvc, sessionsSvc, tm, cfg.JWT.RefreshTokenTTL)
		ah.Register(r)
		r.GET("/api/v1/me", auth, ah.Me)
	} else {
		logger.Warnf("auth handlers not registered: token manager=%v id verifier=%v", tm != nil, idVerifier != nil)
	}
	handlers.RegisterSwagger(r)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		pctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		ready := true
		deps := map[string]bool{"oidc": len(chain) > 0}
		if cfg.Keycloak.URL != "" && idVerifier == nil {
			deps["oidc"] = false
		}
		if mdb != nil {
			deps["mongodb"] = mdb.Client().Ping(pctx, nil) == nil
		}
		if rdb != nil {
			deps["redis"] = rdb.Ping(pctx).Err() == nil
		}
		if files != nil {
			deps["storage"] = files.Ping(pctx) == nil
		}
		for _, ok := range deps {
			ready = ready && ok
		}
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:        cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}
	srv.RegisterOnShutdown(func() { close(streamsDone) })
	go func() {
		logger.Infof("starting jotion service on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
	// no new requests can start cascades now; drain them on a fresh budget
	cctx, ccancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer ccancel()
	if err := svc.Close(cctx); err != nil {
		logger.Errorf("cascades still running at shutdown: %v", err)
	}
}

// identityStores prefers Mongo for users and Redis for sessions, falling back
// to Mongo and then to process memory.
func identityStores(ctx context.Context, mdb *mongo.Database, rdb *redis.Client) (*users.Service, *sessions.Service) {
	var urepo users.UserRepository = users.NewMemoryUserRepository()
	if mdb != nil {
		repo, err := users.NewMongoUserRepository(ctx, mdb.Collection("users"))
		if err != nil {
			logger.Warnf("users collection unavailable, keeping users in memory: %v", err)
		} else {
			urepo = repo
		}
	}

	var srepo sessions.Repository = sessions.NewMemoryRepository()
	switch {
	case rdb != nil:
		srepo = sessions.NewRedisRepository(rdb, "session:")
		logger.Infof("using Redis for session storage")
	case mdb != nil:
		repo, err := sessions.NewMongoRepository(ctx, mdb.Collection("sessions"))
		if err != nil {
			logger.Warnf("sessions collection unavailable, keeping sessions in memory: %v", err)
		} else {
			srepo = repo
		}
	}
	return users.NewService(urepo), sessions.NewService(srepo)
}

// documentStack builds the document service with whatever backing stores
// are reachable.
func documentStack(ctx context.Context, cfg *config.Config, mdb *mongo.Database, rdb *redis.Client) (*service.TreeService, events.Broker, *storage.MinIOStorage) {
	var repo repository.Repository = repository.NewMemoryRepo()
	if mdb != nil {
		mrepo, err := repository.NewMongoRepo(ctx, mdb.Collection(cfg.MongoDB.Collection))
		if err != nil {
			logger.Fatalf("documents collection: %v", err)
		}
		repo = mrepo
	}

	var jobs service.JobStore = service.NewMemoryJobStore()
	var broker events.Broker = events.NewMemoryBroker()
	switch {
	case rdb != nil:
		jobs = service.NewRedisJobStore(rdb, "", cfg.Cascade.JobTTL)
		broker = events.NewRedisBroker(rdb)
	case mdb != nil:
		mjobs, err := service.NewMongoJobStore(ctx, mdb.Collection("cascade_jobs"), cfg.Cascade.JobTTL)
		if err != nil {
			logger.Warnf("cascade jobs kept in memory: %v", err)
		} else {
			jobs = mjobs
		}
	}

	var files *storage.MinIOStorage
	opts := service.Options{
		Jobs:     jobs,
		Events:   broker,
		Mode:     cfg.Cascade.Mode,
		Workers:  cfg.Cascade.Workers,
		MaxDepth: cfg.Cascade.MaxDepth,
	}
	if cfg.Storage.Endpoint != "" {
		mc, err := storage.NewMinIOStorage(ctx, cfg.Storage)
		if err != nil {
			logger.Warnf("cover uploads disabled: %v", err)
		} else {
			files = mc
			opts.Files = mc
		}
	}
	logger.Infow("document service ready", "cascade", cfg.Cascade.Mode, "workers", cfg.Cascade.Workers, "mongo", mdb != nil, "redis", rdb != nil, "minio", files != nil)
	return service.New(repo, opts), broker, files
}
